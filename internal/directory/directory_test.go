package directory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"dealroom/internal/db"
	"dealroom/internal/directory"
	"dealroom/internal/domain"
	"dealroom/internal/migrate"
	"dealroom/internal/repo"
)

func newSQL(t *testing.T) (directory.SQL, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	if err := r.UpsertCampaign(ctx, nil, domain.Campaign{ID: "camp-1", Name: "Spring", Budget: domain.Budget{Min: 400, Max: 800},
		DefaultDeliverables: []string{"instagram_reel"}, UpdatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	if err := r.UpsertCreator(ctx, nil, domain.CreatorProfile{ID: "cr-1", DisplayName: "Ada", EngagementRate: 0.042, UpdatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	return directory.SQL{Repo: r}, ctx
}

func TestSQLDirectory(t *testing.T) {
	src, ctx := newSQL(t)
	c, err := src.Campaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	if c.Budget.Max != 800 || len(c.DefaultDeliverables) != 1 {
		t.Fatalf("unexpected campaign %+v", c)
	}
	if _, err := src.Creator(ctx, "nobody"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCacheFallsThroughWhenRedisIsDown(t *testing.T) {
	src, ctx := newSQL(t)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	cached := directory.NewCached(src, client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p, err := cached.Creator(ctx, "cr-1")
	if err != nil {
		t.Fatalf("creator through broken cache: %v", err)
	}
	if p.EngagementRate != 0.042 {
		t.Fatalf("unexpected creator %+v", p)
	}
	if _, err := cached.Campaign(ctx, "missing"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	cached.Invalidate(ctx, directory.KindCreator, "cr-1")
}

func TestConnectAcceptsURLAndAddr(t *testing.T) {
	ctx := context.Background()
	c, err := directory.Connect(ctx, "redis://localhost:6380/2")
	if err != nil {
		t.Fatalf("connect url: %v", err)
	}
	defer c.Close()
	if c.Options().Addr != "localhost:6380" || c.Options().DB != 2 {
		t.Fatalf("unexpected options %+v", c.Options())
	}
	c2, err := directory.Connect(ctx, "cache:6379")
	if err != nil {
		t.Fatalf("connect addr: %v", err)
	}
	defer c2.Close()
	if c2.Options().Addr != "cache:6379" {
		t.Fatalf("unexpected addr %s", c2.Options().Addr)
	}
	if _, err := directory.Connect(ctx, "redis://host:notaport"); err == nil {
		t.Fatalf("expected parse error")
	}
}
