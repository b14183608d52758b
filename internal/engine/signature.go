package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"dealroom/internal/domain"
	"dealroom/internal/events"
	"dealroom/internal/repo"
)

// Materializer creates the downstream collaboration for a fully signed contract.
type Materializer interface {
	Materialize(ctx context.Context, c domain.Contract, actorID string) (domain.Collaboration, error)
}

type SignInput struct {
	ContractID string
	Signer     string
	Signature  string
	Metadata   map[string]string
	ActorID    string
}

// Sign records one party's signature. Re-signing overwrites that party's record; the
// finalization date is set once when both parties have signed.
func (e Engine) Sign(ctx context.Context, in SignInput) (domain.Contract, error) {
	if in.Signer != domain.SignerBrand && in.Signer != domain.SignerCreator {
		return domain.Contract{}, domain.Validationf("signer must be brand or creator")
	}
	if strings.TrimSpace(in.Signature) == "" {
		return domain.Contract{}, domain.Validationf("signature is required")
	}
	var (
		c         domain.Contract
		finalized bool
	)
	err := e.retryOnConflict("sign_contract", func() error {
		finalized = false
		return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			c, err = e.Repo.GetContract(ctx, tx, in.ContractID)
			if errors.Is(err, repo.ErrNotFound) {
				return domain.NotFoundf("contract %s not found", in.ContractID)
			}
			if err != nil {
				return err
			}
			n, err := e.Repo.GetNegotiation(ctx, tx, c.NegotiationID)
			if err != nil {
				return err
			}
			now := e.stamp()
			finalized = applySignature(&c.Signatures, in, now)
			c.Status = statusFor(c.Signatures)
			c.UpdatedAt = now
			if err := e.Repo.UpdateContractSignatures(ctx, tx, c); err != nil {
				return err
			}
			c.Version++
			if err := e.emit(ctx, tx, events.ContractSigned, n.CampaignID, "contract", c.ID, in.ActorID,
				events.EventPayload{"signer": in.Signer, "status": c.Status}); err != nil {
				return err
			}
			if finalized {
				return e.emit(ctx, tx, events.ContractFinalized, n.CampaignID, "contract", c.ID, in.ActorID,
					events.EventPayload{"finalization_date": now})
			}
			return nil
		})
	})
	if err != nil {
		return domain.Contract{}, storeErr("sign contract", err)
	}
	e.logger().Info("contract signed", "module", "engine", "operation", "sign_contract", "outcome", c.Status, "contract_id", c.ID, "signer", in.Signer)
	if finalized {
		e.materialize(ctx, c, in.ActorID)
	}
	return c, nil
}

// applySignature mutates sigs and reports whether this call finalized the contract.
func applySignature(sigs *domain.SignatureData, in SignInput, now string) bool {
	party := &domain.PartySignature{SignedAt: now, Signature: in.Signature, Metadata: in.Metadata}
	switch in.Signer {
	case domain.SignerBrand:
		sigs.BrandSigned = true
		sigs.BrandSignatureDate = domain.String(now)
		sigs.Brand = party
	case domain.SignerCreator:
		sigs.CreatorSigned = true
		sigs.CreatorSignatureDate = domain.String(now)
		sigs.Creator = party
	}
	if sigs.BrandSigned && sigs.CreatorSigned && !sigs.ContractFinalized {
		sigs.ContractFinalized = true
		sigs.FinalizationDate = domain.String(now)
		return true
	}
	return false
}

func statusFor(sigs domain.SignatureData) string {
	switch {
	case sigs.BrandSigned && sigs.CreatorSigned:
		return domain.ContractSigned
	case sigs.BrandSigned || sigs.CreatorSigned:
		return domain.ContractPartiallySigned
	default:
		return domain.ContractDraft
	}
}

func (e Engine) materialize(ctx context.Context, c domain.Contract, actorID string) {
	if e.Materializer == nil {
		return
	}
	collab, err := e.Materializer.Materialize(ctx, c, actorID)
	if err != nil {
		e.logger().Warn("collaboration not materialized", "module", "engine", "operation", "materialize_collaboration", "outcome", "error", "contract_id", c.ID, "error", err)
		return
	}
	e.logger().Info("collaboration materialized", "module", "engine", "operation", "materialize_collaboration", "outcome", "ok", "contract_id", c.ID, "collaboration_id", collab.ID)
}

// RepoMaterializer stores collaborations in the workspace database.
type RepoMaterializer struct {
	Repo   repo.Repo
	Events events.Writer
}

func (m RepoMaterializer) Materialize(ctx context.Context, c domain.Contract, actorID string) (domain.Collaboration, error) {
	var collab domain.Collaboration
	err := m.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := m.Repo.GetNegotiation(ctx, tx, c.NegotiationID)
		if err != nil {
			return err
		}
		collab = domain.Collaboration{
			ID:            uuid.NewString(),
			ContractID:    c.ID,
			NegotiationID: n.ID,
			CampaignID:    n.CampaignID,
			CreatorID:     n.CreatorID,
			Status:        "active",
			CreatedAt:     c.UpdatedAt,
		}
		created, err := m.Repo.InsertCollaboration(ctx, tx, collab)
		if err != nil || !created {
			return err
		}
		return m.Events.Append(ctx, tx, events.CollaborationCreated, n.CampaignID, "collaboration", collab.ID, actorID,
			events.EventPayload{"contract_id": c.ID})
	})
	if err != nil {
		return domain.Collaboration{}, err
	}
	return collab, nil
}

func (e Engine) GetCollaboration(ctx context.Context, contractID string) (domain.Collaboration, error) {
	collab, err := e.Repo.GetCollaborationByContract(ctx, contractID)
	if errors.Is(err, repo.ErrNotFound) {
		return collab, domain.NotFoundf("no collaboration for contract %s", contractID)
	}
	if err != nil {
		return collab, storeErr("get collaboration", err)
	}
	return collab, nil
}
