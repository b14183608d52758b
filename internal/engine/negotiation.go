package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"dealroom/internal/directory"
	"dealroom/internal/domain"
	"dealroom/internal/events"
	"dealroom/internal/extract"
	"dealroom/internal/repo"
)

// ResponseOutcome reports what an inbound creator message produced.
type ResponseOutcome struct {
	Extraction  extract.Result      `json:"extraction"`
	Negotiation *domain.Negotiation `json:"negotiation,omitempty"`
	Created     bool                `json:"created"`
}

// Preview runs extraction against the campaign budget without persisting anything.
func (e Engine) Preview(ctx context.Context, campaignID, text string) extract.Result {
	return e.Extractor.Extract(text, e.budgetFor(ctx, campaignID))
}

func (e Engine) budgetFor(ctx context.Context, campaignID string) *domain.Budget {
	if campaignID == "" {
		return nil
	}
	c, err := e.directory().Campaign(ctx, campaignID)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		e.logger().Info("campaign has no budget on record", "module", "engine", "operation", "budget_lookup", "outcome", "neutral", "campaign_id", campaignID)
		return nil
	case err != nil:
		e.logger().Warn("campaign lookup failed", "module", "engine", "operation", "budget_lookup", "outcome", "neutral", "campaign_id", campaignID, "error", err)
		return nil
	}
	b := c.Budget
	return &b
}

// RecordCreatorResponse stores the message, extracts terms and opens a negotiation for the
// (campaign, creator) pair when the reply qualifies. An existing negotiation is returned as is.
func (e Engine) RecordCreatorResponse(ctx context.Context, comm domain.Communication, actorID string) (ResponseOutcome, error) {
	if strings.TrimSpace(comm.ID) == "" {
		return ResponseOutcome{}, domain.Validationf("communication id is required")
	}
	if strings.TrimSpace(comm.CampaignID) == "" || strings.TrimSpace(comm.CreatorID) == "" {
		return ResponseOutcome{}, domain.Validationf("campaign_id and creator_id are required")
	}
	if strings.TrimSpace(comm.Content) == "" {
		return ResponseOutcome{}, domain.Validationf("content is required")
	}
	if comm.ReceivedAt == "" {
		comm.ReceivedAt = e.stamp()
	}
	if actorID == "" {
		actorID = comm.CreatorID
	}
	out := ResponseOutcome{Extraction: e.Preview(ctx, comm.CampaignID, comm.Content)}

	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		stored, err := e.Repo.InsertCommunication(ctx, tx, comm)
		if err != nil {
			return err
		}
		if stored {
			if err := e.emit(ctx, tx, events.CommunicationRecorded, comm.CampaignID, "communication", comm.ID, actorID,
				events.EventPayload{"creator_id": comm.CreatorID}); err != nil {
				return err
			}
		}
		if !out.Extraction.Qualifies() {
			return nil
		}
		now := e.stamp()
		n := domain.Negotiation{
			ID:              uuid.NewString(),
			CampaignID:      comm.CampaignID,
			CreatorID:       comm.CreatorID,
			CommunicationID: comm.ID,
			Status:          domain.NegotiationActive,
			CurrentRound:    0,
			MaxRounds:       e.Config.Negotiation.MaxRounds,
			CreatorTerms:    out.Extraction.Terms.Clone(),
			CurrentTerms:    out.Extraction.Terms.Clone(),
			AIAnalysis:      out.Extraction.Analysis,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := e.Repo.InsertNegotiation(ctx, tx, n)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := e.Repo.GetNegotiationByPair(ctx, tx, comm.CampaignID, comm.CreatorID)
			if err != nil {
				return err
			}
			out.Negotiation = &existing
			return nil
		}
		out.Negotiation, out.Created = &n, true
		return e.emit(ctx, tx, events.NegotiationCreated, n.CampaignID, "negotiation", n.ID, actorID, events.EventPayload{
			"creator_id":     n.CreatorID,
			"interest_level": n.AIAnalysis.InterestLevel,
			"total_rate":     n.CreatorTerms.TotalRate,
		})
	})
	if err != nil {
		e.logger().Error("record creator response failed", "module", "engine", "operation", "record_response", "outcome", "error", "communication_id", comm.ID, "error", err)
		return out, storeErr("record creator response", err)
	}
	e.logger().Info("creator response recorded", "module", "engine", "operation", "record_response", "outcome", outcomeLabel(out),
		"communication_id", comm.ID, "interest_level", out.Extraction.Analysis.InterestLevel)
	return out, nil
}

func outcomeLabel(out ResponseOutcome) string {
	switch {
	case out.Created:
		return "created"
	case out.Negotiation != nil:
		return "existing"
	default:
		return "not_qualified"
	}
}

// RecordStoredResponse reruns RecordCreatorResponse for a communication already on file.
func (e Engine) RecordStoredResponse(ctx context.Context, communicationID, actorID string) (ResponseOutcome, error) {
	comm, err := e.Repo.GetCommunication(ctx, nil, communicationID)
	if errors.Is(err, repo.ErrNotFound) {
		return ResponseOutcome{}, domain.NotFoundf("communication %s not found", communicationID)
	}
	if err != nil {
		return ResponseOutcome{}, storeErr("load communication", err)
	}
	return e.RecordCreatorResponse(ctx, comm, actorID)
}

type CounterOfferInput struct {
	NegotiationID   string
	Terms           domain.DealTerms
	ResponseMessage string
	ActorID         string
}

// CounterOutcome carries the analysis even when persisting failed.
type CounterOutcome struct {
	Negotiation  domain.Negotiation        `json:"negotiation"`
	Analysis     domain.RoundAnalysis      `json:"analysis"`
	Rounds       []domain.NegotiationRound `json:"rounds"`
	AutoResponse *domain.NegotiationRound  `json:"auto_response,omitempty"`
}

// ValidateTerms rejects proposals that cannot be negotiated on.
func ValidateTerms(t domain.DealTerms) error {
	if t.IsEmpty() {
		return domain.Validationf("proposed terms are empty")
	}
	for name, v := range map[string]*float64{
		"total_rate":     t.TotalRate,
		"rate_per_post":  t.RatePerPost,
		"rate_per_story": t.RatePerStory,
		"rate_per_reel":  t.RatePerReel,
	} {
		if v != nil && (*v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return domain.Validationf("%s must be a non-negative number", name)
		}
	}
	for _, d := range t.Deliverables {
		if strings.TrimSpace(d) == "" {
			return domain.Validationf("deliverables contain a blank tag")
		}
	}
	return nil
}

// SubmitCounterOffer appends a brand round and, when the analysis allows it, the simulated
// creator reply. Both rounds and the round counter commit together.
func (e Engine) SubmitCounterOffer(ctx context.Context, in CounterOfferInput) (CounterOutcome, error) {
	if err := ValidateTerms(in.Terms); err != nil {
		return CounterOutcome{}, err
	}
	proposed := normalizeTerms(in.Terms)
	var out CounterOutcome
	err := e.retryOnConflict("submit_counter_offer", func() error {
		out = CounterOutcome{}
		return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
			n, err := e.Repo.GetNegotiation(ctx, tx, in.NegotiationID)
			if errors.Is(err, repo.ErrNotFound) {
				return domain.NotFoundf("negotiation %s not found", in.NegotiationID)
			}
			if err != nil {
				return err
			}
			if n.Status != domain.NegotiationActive {
				return domain.Conflictf("negotiation %s is %s, not active", n.ID, n.Status)
			}
			expected := n.CurrentRound
			brandRound := expected + 1
			analysis := e.analyze(n.CreatorTerms, proposed, brandRound, n.MaxRounds)
			out.Analysis = analysis
			now := e.stamp()

			brand := domain.NegotiationRound{
				ID:              uuid.NewString(),
				NegotiationID:   n.ID,
				RoundNumber:     brandRound,
				InitiatedBy:     domain.InitiatedByBrand,
				ProposedTerms:   proposed.Clone(),
				AIAnalysis:      analysis,
				ResponseType:    domain.ResponseCounter,
				ResponseMessage: in.ResponseMessage,
				CreatedAt:       now,
			}
			if err := e.appendRound(ctx, tx, n, brand, in.ActorID); err != nil {
				return err
			}
			out.Rounds = append(out.Rounds, brand)
			n.CurrentRound = brandRound
			n.CurrentTerms = proposed.Clone()

			if analysis.ShouldAutoRespond {
				reply := e.decideReply(analysis, proposed)
				ai := domain.NegotiationRound{
					ID:              uuid.NewString(),
					NegotiationID:   n.ID,
					RoundNumber:     brandRound + 1,
					InitiatedBy:     domain.InitiatedByAI,
					ProposedTerms:   reply.terms,
					AIAnalysis:      analysis,
					ResponseType:    reply.responseType,
					ResponseMessage: reply.message,
					CreatedAt:       now,
				}
				if err := e.appendRound(ctx, tx, n, ai, "ai"); err != nil {
					return err
				}
				out.Rounds = append(out.Rounds, ai)
				out.AutoResponse = &out.Rounds[len(out.Rounds)-1]
				n.CurrentRound = ai.RoundNumber
				switch reply.responseType {
				case domain.ResponseAccept:
					n.Status = domain.NegotiationAgreed
				case domain.ResponseCounter:
					n.CurrentTerms = reply.terms.Clone()
				}
			}
			n.UpdatedAt = now
			if err := e.Repo.AdvanceNegotiation(ctx, tx, n, expected); err != nil {
				return err
			}
			if n.Status == domain.NegotiationAgreed {
				if err := e.emit(ctx, tx, events.NegotiationAgreed, n.CampaignID, "negotiation", n.ID, "ai",
					events.EventPayload{"round": n.CurrentRound, "total_rate": n.CurrentTerms.TotalRate}); err != nil {
					return err
				}
			}
			out.Negotiation = n
			return nil
		})
	})
	if err != nil {
		if k := domain.KindOf(err); k == domain.KindNotFound || k == domain.KindConflict {
			return out, err
		}
		e.logger().Error("counter-offer not persisted", "module", "engine", "operation", "submit_counter_offer", "outcome", "error", "negotiation_id", in.NegotiationID, "error", err)
		return out, storeErr("persist counter-offer", err)
	}
	auto := "none"
	if out.AutoResponse != nil {
		auto = out.AutoResponse.ResponseType
	}
	e.logger().Info("counter-offer recorded", "module", "engine", "operation", "submit_counter_offer", "outcome", "ok",
		"negotiation_id", in.NegotiationID, "variance", out.Analysis.Variance, "auto_response", auto)
	return out, nil
}

func (e Engine) appendRound(ctx context.Context, tx *sql.Tx, n domain.Negotiation, rd domain.NegotiationRound, actorID string) error {
	if err := e.Repo.InsertRound(ctx, tx, rd); err != nil {
		return err
	}
	return e.emit(ctx, tx, events.NegotiationRoundAdded, n.CampaignID, "negotiation", n.ID, actorID, events.EventPayload{
		"round_number":  rd.RoundNumber,
		"initiated_by":  rd.InitiatedBy,
		"response_type": rd.ResponseType,
	})
}

func normalizeTerms(t domain.DealTerms) domain.DealTerms {
	out := t.Clone()
	out.Deliverables = []string{}
	for _, d := range t.Deliverables {
		out.AddDeliverable(strings.TrimSpace(d))
	}
	return out
}

const (
	DecisionAccept  = "accept"
	DecisionDecline = "decline"
)

type ResolveInput struct {
	NegotiationID string
	Decision      string
	Message       string
	ActorID       string
}

// ResolveNegotiation records the creator's final answer outside the automated exchange,
// closing an active negotiation as agreed or declined.
func (e Engine) ResolveNegotiation(ctx context.Context, in ResolveInput) (domain.Negotiation, error) {
	var responseType, status, evtType string
	switch in.Decision {
	case DecisionAccept:
		responseType, status, evtType = domain.ResponseAccept, domain.NegotiationAgreed, events.NegotiationAgreed
	case DecisionDecline:
		responseType, status, evtType = domain.ResponseDecline, domain.NegotiationDeclined, events.NegotiationDeclined
	default:
		return domain.Negotiation{}, domain.Validationf("decision must be accept or decline")
	}
	var n domain.Negotiation
	err := e.retryOnConflict("resolve_negotiation", func() error {
		return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			n, err = e.Repo.GetNegotiation(ctx, tx, in.NegotiationID)
			if errors.Is(err, repo.ErrNotFound) {
				return domain.NotFoundf("negotiation %s not found", in.NegotiationID)
			}
			if err != nil {
				return err
			}
			if n.Status != domain.NegotiationActive {
				return domain.Conflictf("negotiation %s is %s, not active", n.ID, n.Status)
			}
			expected := n.CurrentRound
			now := e.stamp()
			terms := domain.DealTerms{Deliverables: []string{}}
			if status == domain.NegotiationAgreed {
				terms = n.CurrentTerms.Clone()
			}
			rd := domain.NegotiationRound{
				ID:              uuid.NewString(),
				NegotiationID:   n.ID,
				RoundNumber:     expected + 1,
				InitiatedBy:     domain.InitiatedByCreator,
				ProposedTerms:   terms,
				AIAnalysis:      NeutralAnalysis(),
				ResponseType:    responseType,
				ResponseMessage: in.Message,
				CreatedAt:       now,
			}
			if err := e.appendRound(ctx, tx, n, rd, in.ActorID); err != nil {
				return err
			}
			n.CurrentRound = rd.RoundNumber
			n.Status = status
			n.UpdatedAt = now
			if err := e.Repo.AdvanceNegotiation(ctx, tx, n, expected); err != nil {
				return err
			}
			return e.emit(ctx, tx, evtType, n.CampaignID, "negotiation", n.ID, in.ActorID,
				events.EventPayload{"round": n.CurrentRound, "resolution": in.Decision})
		})
	})
	if err != nil {
		return domain.Negotiation{}, storeErr("resolve negotiation", err)
	}
	e.logger().Info("negotiation resolved", "module", "engine", "operation", "resolve_negotiation", "outcome", status, "negotiation_id", n.ID)
	return n, nil
}

func (e Engine) GetNegotiation(ctx context.Context, id string) (domain.Negotiation, error) {
	n, err := e.Repo.GetNegotiation(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return n, domain.NotFoundf("negotiation %s not found", id)
	}
	if err != nil {
		return n, storeErr("get negotiation", err)
	}
	return n, nil
}

func (e Engine) ListNegotiations(ctx context.Context, f repo.NegotiationFilter) ([]domain.Negotiation, error) {
	out, err := e.Repo.ListNegotiations(ctx, f)
	if err != nil {
		return nil, storeErr("list negotiations", err)
	}
	return out, nil
}

func (e Engine) ListRounds(ctx context.Context, negotiationID string) ([]domain.NegotiationRound, error) {
	if _, err := e.GetNegotiation(ctx, negotiationID); err != nil {
		return nil, err
	}
	rounds, err := e.Repo.ListRounds(ctx, nil, negotiationID)
	if err != nil {
		return nil, storeErr("list rounds", err)
	}
	return rounds, nil
}
