package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"dealroom/internal/directory"
	"dealroom/internal/domain"
	"dealroom/internal/events"
)

func (e Engine) UpsertCampaign(ctx context.Context, c domain.Campaign, actorID string) (domain.Campaign, error) {
	if strings.TrimSpace(c.ID) == "" {
		return c, domain.Validationf("campaign id is required")
	}
	if c.Budget.Min < 0 || c.Budget.Max < 0 || math.IsNaN(c.Budget.Min) || math.IsNaN(c.Budget.Max) {
		return c, domain.Validationf("budget bounds must not be negative")
	}
	if c.Budget.Max > 0 && c.Budget.Min > c.Budget.Max {
		return c, domain.Validationf("budget min %v exceeds max %v", c.Budget.Min, c.Budget.Max)
	}
	for _, d := range c.DefaultDeliverables {
		if strings.TrimSpace(d) == "" {
			return c, domain.Validationf("default deliverables contain a blank tag")
		}
	}
	c.UpdatedAt = e.stamp()
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertCampaign(ctx, tx, c); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.DirectoryCampaignStored, c.ID, "campaign", c.ID, actorID,
			events.EventPayload{"budget_min": c.Budget.Min, "budget_max": c.Budget.Max})
	})
	if err != nil {
		return c, storeErr("upsert campaign", err)
	}
	e.directory().Invalidate(ctx, directory.KindCampaign, c.ID)
	return c, nil
}

func (e Engine) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := e.directory().Campaign(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return c, domain.NotFoundf("campaign %s not found", id)
	}
	if err != nil {
		return c, storeErr("get campaign", err)
	}
	return c, nil
}

func (e Engine) UpsertCreator(ctx context.Context, p domain.CreatorProfile, actorID string) (domain.CreatorProfile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return p, domain.Validationf("creator id is required")
	}
	if p.EngagementRate < 0 || p.EngagementRate > 1 || math.IsNaN(p.EngagementRate) {
		return p, domain.Validationf("engagement rate must be within [0,1]")
	}
	p.UpdatedAt = e.stamp()
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertCreator(ctx, tx, p); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.DirectoryCreatorStored, "", "creator", p.ID, actorID,
			events.EventPayload{"engagement_rate": p.EngagementRate})
	})
	if err != nil {
		return p, storeErr("upsert creator", err)
	}
	e.directory().Invalidate(ctx, directory.KindCreator, p.ID)
	return p, nil
}

func (e Engine) GetCreator(ctx context.Context, id string) (domain.CreatorProfile, error) {
	p, err := e.directory().Creator(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return p, domain.NotFoundf("creator %s not found", id)
	}
	if err != nil {
		return p, storeErr("get creator", err)
	}
	return p, nil
}

func (e Engine) directory() Directory {
	if e.Directory != nil {
		return e.Directory
	}
	return directory.SQL{Repo: e.Repo}
}
