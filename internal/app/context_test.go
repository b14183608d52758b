package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"dealroom/internal/config"
	"dealroom/internal/directory"
	"dealroom/internal/domain"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenUsesDefaultsWithoutConfig(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: ws, Logger: quiet()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.Negotiation.MaxRounds != 3 {
		t.Fatalf("max rounds = %d", rt.Config.Negotiation.MaxRounds)
	}
	if _, ok := rt.Engine.Directory.(directory.SQL); !ok {
		t.Fatalf("expected SQL directory, got %T", rt.Engine.Directory)
	}
	if _, err := os.Stat(filepath.Join(ws, ".dealroom", "dealroom.db")); err != nil {
		t.Fatalf("database not created: %v", err)
	}
}

func TestOpenWiresRedisCacheAndFallsThrough(t *testing.T) {
	ws := t.TempDir()
	cfgYAML := "negotiation:\n  max_rounds: 5\nredis:\n  url: 127.0.0.1:1\n  ttl_seconds: 30\n"
	if err := os.WriteFile(config.Path(ws), []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rt, err := Open(context.Background(), Options{Workspace: ws, Logger: quiet()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.Negotiation.MaxRounds != 5 {
		t.Fatalf("config not loaded: %+v", rt.Config.Negotiation)
	}
	if _, ok := rt.Engine.Directory.(*directory.Cached); !ok {
		t.Fatalf("expected cached directory, got %T", rt.Engine.Directory)
	}
	ctx := context.Background()
	if _, err := rt.Engine.UpsertCampaign(ctx, domain.Campaign{ID: "camp-1", Name: "Spring", Budget: domain.Budget{Min: 1, Max: 2}}, "tester"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := rt.Engine.GetCampaign(ctx, "camp-1")
	if err != nil || got.Budget.Max != 2 {
		t.Fatalf("lookup through broken cache: %+v err %v", got, err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "custom.yml")
	if err := os.WriteFile(path, []byte("negotiation:\n  max_rounds: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), Options{Workspace: ws, ConfigPath: path, Logger: quiet()}); err == nil {
		t.Fatalf("expected validation error")
	}
}
