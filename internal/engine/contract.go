package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"dealroom/internal/config"
	"dealroom/internal/directory"
	"dealroom/internal/domain"
	"dealroom/internal/events"
	"dealroom/internal/repo"
)

// AssembleTerms builds the contract terms for an agreed negotiation. campaignDefaults and
// baseline come from the directory and may be empty.
func AssembleTerms(n domain.Negotiation, campaignDefaults []string, baseline float64, cfg config.ContractConfig) (domain.ContractTerms, error) {
	total := cfg.DefaultTotalAmount
	if n.CurrentTerms.TotalRate != nil {
		total = *n.CurrentTerms.TotalRate
	}
	comp, err := domain.NewCompensation(total, cfg.Currency)
	if err != nil {
		return domain.ContractTerms{}, err
	}
	content := n.CurrentTerms.Deliverables
	if len(content) == 0 {
		content = campaignDefaults
	}
	if len(content) == 0 {
		content = cfg.DefaultDeliverables
	}
	content = append([]string{}, content...)
	deliverables := domain.Deliverables{ContentRequirements: content}
	if n.CurrentTerms.Timeline != nil {
		deliverables.Timeline = *n.CurrentTerms.Timeline
	}
	terms := domain.ContractTerms{
		Compensation: comp,
		Deliverables: deliverables,
		UsageRights: domain.UsageRights{
			Duration:          "12 months",
			Territory:         "worldwide",
			Platforms:         platformsFor(content),
			PaidAmplification: true,
			ExclusivityDays:   30,
		},
		PerformanceMetrics: domain.PerformanceMetrics{
			BaselineEngagementRate: baseline,
			BonusEngagementRate:    roundTo(baseline*cfg.BonusEngagementLift, 4),
			BonusAmount:            roundTo(total*cfg.BonusRate, 2),
			ReportingWindowDays:    30,
			RequiredReports:        []string{"reach", "impressions", "engagement"},
		},
		LegalTerms: domain.LegalTerms{
			GoverningLaw:           cfg.GoverningLaw,
			CancellationNoticeDays: 14,
			KillFee:                roundTo(total*cfg.KillFeeRate, 2),
			DisclosureRequired:     true,
			Confidentiality:        true,
		},
		ApprovalProcess: domain.ApprovalProcess{
			DraftDueDays:    7,
			BrandReviewDays: 3,
			MaxRevisions:    2,
		},
	}
	if err := terms.Validate(); err != nil {
		return domain.ContractTerms{}, err
	}
	return terms, nil
}

func platformsFor(deliverables []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range deliverables {
		p := "other"
		switch {
		case strings.HasPrefix(d, "instagram_"):
			p = "instagram"
		case d == "video_content":
			p = "video"
		case d == "blog_post":
			p = "blog"
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// GenerateContract turns an agreed negotiation into a draft contract and marks the
// negotiation contracted in the same transaction.
func (e Engine) GenerateContract(ctx context.Context, negotiationID, actorID string) (domain.Contract, error) {
	n, err := e.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return domain.Contract{}, err
	}
	if n.Status != domain.NegotiationAgreed {
		return domain.Contract{}, domain.Conflictf("negotiation %s is %s, contracts need an agreed negotiation", n.ID, n.Status)
	}
	var defaults []string
	if c, err := e.directory().Campaign(ctx, n.CampaignID); err == nil {
		defaults = c.DefaultDeliverables
	} else if !errors.Is(err, directory.ErrNotFound) {
		e.logger().Warn("campaign lookup failed", "module", "engine", "operation", "generate_contract", "outcome", "defaults", "campaign_id", n.CampaignID, "error", err)
	}
	baseline := e.Config.Contract.DefaultEngagementRate
	if p, err := e.directory().Creator(ctx, n.CreatorID); err == nil {
		baseline = p.EngagementRate
	} else if !errors.Is(err, directory.ErrNotFound) {
		e.logger().Warn("creator lookup failed", "module", "engine", "operation", "generate_contract", "outcome", "defaults", "creator_id", n.CreatorID, "error", err)
	}
	terms, err := AssembleTerms(n, defaults, baseline, e.Config.Contract)
	if err != nil {
		return domain.Contract{}, err
	}
	now := e.stamp()
	c := domain.Contract{
		ID:            uuid.NewString(),
		NegotiationID: n.ID,
		Terms:         terms,
		Status:        domain.ContractDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.TransitionNegotiation(ctx, tx, n.ID, domain.NegotiationAgreed, domain.NegotiationContracted, now); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return domain.Conflictf("negotiation %s changed before the contract was stored", n.ID)
			}
			return err
		}
		if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return domain.Conflictf("negotiation %s already has a contract", n.ID)
			}
			return err
		}
		return e.emit(ctx, tx, events.ContractGenerated, n.CampaignID, "contract", c.ID, actorID, events.EventPayload{
			"negotiation_id": n.ID,
			"total_amount":   terms.Compensation.TotalAmount,
		})
	})
	if err != nil {
		return domain.Contract{}, storeErr("generate contract", err)
	}
	e.logger().Info("contract generated", "module", "engine", "operation", "generate_contract", "outcome", "ok", "negotiation_id", n.ID, "contract_id", c.ID)
	return c, nil
}

func (e Engine) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return c, domain.NotFoundf("contract %s not found", id)
	}
	if err != nil {
		return c, storeErr("get contract", err)
	}
	return c, nil
}

func (e Engine) GetContractByNegotiation(ctx context.Context, negotiationID string) (domain.Contract, error) {
	c, err := e.Repo.GetContractByNegotiation(ctx, nil, negotiationID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, domain.NotFoundf("no contract for negotiation %s", negotiationID)
	}
	if err != nil {
		return c, storeErr("get contract", err)
	}
	return c, nil
}
