package directory

import (
	"context"
	"errors"
	"fmt"

	"dealroom/internal/domain"
	"dealroom/internal/repo"
)

const (
	KindCampaign = "campaign"
	KindCreator  = "creator"
)

// ErrNotFound is returned when the directory has no record for an id.
var ErrNotFound = repo.ErrNotFound

// Source answers campaign and creator lookups.
type Source interface {
	Campaign(ctx context.Context, id string) (domain.Campaign, error)
	Creator(ctx context.Context, id string) (domain.CreatorProfile, error)
	// Invalidate drops any cached copy after the record was rewritten.
	Invalidate(ctx context.Context, kind, id string)
}

// SQL reads the directory tables of the workspace database.
type SQL struct {
	Repo repo.Repo
}

func (s SQL) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := s.Repo.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c, ErrNotFound
		}
		return c, fmt.Errorf("load campaign %s: %w", id, err)
	}
	return c, nil
}

func (s SQL) Creator(ctx context.Context, id string) (domain.CreatorProfile, error) {
	p, err := s.Repo.GetCreator(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, ErrNotFound
		}
		return p, fmt.Errorf("load creator %s: %w", id, err)
	}
	return p, nil
}

func (SQL) Invalidate(context.Context, string, string) {}
