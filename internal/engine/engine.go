package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"dealroom/internal/config"
	"dealroom/internal/directory"
	"dealroom/internal/domain"
	"dealroom/internal/events"
	"dealroom/internal/extract"
	"dealroom/internal/repo"
)

// Directory resolves campaign budgets and creator profiles.
type Directory interface {
	Campaign(ctx context.Context, id string) (domain.Campaign, error)
	Creator(ctx context.Context, id string) (domain.CreatorProfile, error)
	Invalidate(ctx context.Context, kind, id string)
}

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Config       *config.Config
	Directory    Directory
	Extractor    extract.Extractor
	Analyzer     Analyzer
	Materializer Materializer
	Logger       *slog.Logger
	Now          func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:           db,
		Repo:         r,
		Config:       cfg,
		Directory:    directory.SQL{Repo: r},
		Extractor:    extract.New(extract.KeywordClassifier{}, nil),
		Analyzer:     VarianceAnalyzer{Config: cfg.Negotiation},
		Materializer: RepoMaterializer{Repo: r},
		Logger:       slog.Default(),
		Now:          time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, campaignID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, campaignID, entityKind, entityID, actorID, payload)
}

func (e Engine) retries() int {
	if e.Config != nil && e.Config.Negotiation.ConflictRetries > 0 {
		return e.Config.Negotiation.ConflictRetries
	}
	return 1
}

// retryOnConflict reruns fn while it loses optimistic races against other writers.
func (e Engine) retryOnConflict(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.retries(); attempt++ {
		err = fn()
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
		e.logger().Info("optimistic update lost, retrying", "module", "engine", "operation", op, "outcome", "retry", "attempt", attempt)
	}
	return domain.Conflictf("%s: concurrent update, retries exhausted", op)
}

// storeErr converts storage failures into structured errors.
func storeErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundf("%s: not found", msg)
	}
	if errors.Is(err, repo.ErrConflict) {
		return domain.Conflictf("%s: conflict", msg)
	}
	return domain.TransientStore(msg, err)
}

// LatestEvents reads the event log newest first.
func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	evts, err := e.Repo.LatestEvents(ctx, f)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	return evts, nil
}
