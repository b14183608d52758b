package server

import (
	"encoding/json"

	"dealroom/internal/domain"
	"dealroom/internal/engine"
)

// Request payloads

type UpsertCampaignRequest struct {
	Name                string        `json:"name"`
	Budget              domain.Budget `json:"budget"`
	DefaultDeliverables []string      `json:"default_deliverables,omitempty"`
}

type UpsertCreatorRequest struct {
	DisplayName    string  `json:"display_name"`
	EngagementRate float64 `json:"engagement_rate" minimum:"0" maximum:"1"`
}

type ExtractRequest struct {
	CampaignID string `json:"campaign_id,omitempty"`
	Content    string `json:"content"`
}

type CommunicationRequest struct {
	ID         string  `json:"id"`
	CampaignID string  `json:"campaign_id"`
	CreatorID  string  `json:"creator_id"`
	Subject    *string `json:"subject,omitempty"`
	Content    string  `json:"content"`
	ReceivedAt *string `json:"received_at,omitempty" format:"date-time"`
}

type CounterOfferRequest struct {
	Terms           domain.DealTerms `json:"terms"`
	ResponseMessage *string          `json:"response_message,omitempty"`
}

type ResolutionRequest struct {
	Decision string  `json:"decision" enum:"accept,decline"`
	Message  *string `json:"message,omitempty"`
}

type SignatureRequest struct {
	Signer    string            `json:"signer" enum:"brand,creator"`
	Signature string            `json:"signature"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type negotiationList struct {
	Items []domain.Negotiation `json:"items"`
}

type roundList struct {
	Items []domain.NegotiationRound `json:"items"`
}

// Conversion helpers

func communicationFromRequest(req CommunicationRequest) domain.Communication {
	return domain.Communication{
		ID:         req.ID,
		CampaignID: req.CampaignID,
		CreatorID:  req.CreatorID,
		Subject:    derefString(req.Subject),
		Content:    req.Content,
		ReceivedAt: derefString(req.ReceivedAt),
	}
}

func counterOfferInput(negotiationID, actorID string, req CounterOfferRequest) engine.CounterOfferInput {
	return engine.CounterOfferInput{
		NegotiationID:   negotiationID,
		Terms:           req.Terms,
		ResponseMessage: derefString(req.ResponseMessage),
		ActorID:         actorID,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CampaignID: e.CampaignID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{"raw": raw}
	}
	return obj
}

func derefString(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}
