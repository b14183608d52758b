package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	NegotiationCreated      = "negotiation.created"
	NegotiationRoundAdded   = "negotiation.round_appended"
	NegotiationAgreed       = "negotiation.agreed"
	NegotiationDeclined     = "negotiation.declined"
	ContractGenerated       = "contract.generated"
	ContractSigned          = "contract.signed"
	ContractFinalized       = "contract.finalized"
	CollaborationCreated    = "collaboration.created"
	CommunicationRecorded   = "communication.recorded"
	DirectoryCampaignStored = "campaign.upserted"
	DirectoryCreatorStored  = "creator.upserted"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside the caller's transaction so it commits or rolls back
// with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, campaignID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,campaign_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(campaignID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
