package repo

import (
	"context"
	"database/sql"

	"dealroom/internal/domain"
)

const contractColumns = `id,negotiation_id,contract_terms_json,status,signature_data_json,version,created_at,updated_at`

func scanContract(row rowScanner) (domain.Contract, error) {
	var c domain.Contract
	var terms, sigs sql.NullString
	if err := row.Scan(&c.ID, &c.NegotiationID, &terms, &c.Status, &sigs, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if err := unmarshalJSON(terms, &c.Terms); err != nil {
		return c, err
	}
	if err := unmarshalJSON(sigs, &c.Signatures); err != nil {
		return c, err
	}
	return c, nil
}

// InsertContract stores a new contract; a second contract for the same negotiation is ErrConflict.
func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	terms, err := marshalJSON(c.Terms)
	if err != nil {
		return err
	}
	sigs, err := marshalJSON(c.Signatures)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.NegotiationID, terms, c.Status, sigs, c.Version, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetContract(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	c, err := scanContract(r.on(tx).QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetContractByNegotiation(ctx context.Context, tx *sql.Tx, negotiationID string) (domain.Contract, error) {
	c, err := scanContract(r.on(tx).QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE negotiation_id=?`, negotiationID))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// UpdateContractSignatures persists status and signature data when the stored version still
// equals c.Version, then bumps the version. ErrConflict means another writer got there first.
func (r Repo) UpdateContractSignatures(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	sigs, err := marshalJSON(c.Signatures)
	if err != nil {
		return err
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE contracts SET status=?, signature_data_json=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		c.Status, sigs, c.UpdatedAt, c.ID, c.Version)
	if err != nil {
		return err
	}
	return affectedOrConflict(res)
}

// InsertCollaboration is idempotent per contract and reports whether a row was created.
func (r Repo) InsertCollaboration(ctx context.Context, tx *sql.Tx, c domain.Collaboration) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO collaborations(id,contract_id,negotiation_id,campaign_id,creator_id,status,created_at)
VALUES (?,?,?,?,?,?,?) ON CONFLICT(contract_id) DO NOTHING`,
		c.ID, c.ContractID, c.NegotiationID, c.CampaignID, c.CreatorID, c.Status, c.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetCollaborationByContract(ctx context.Context, contractID string) (domain.Collaboration, error) {
	var c domain.Collaboration
	err := r.DB.QueryRowContext(ctx, `SELECT id,contract_id,negotiation_id,campaign_id,creator_id,status,created_at FROM collaborations WHERE contract_id=?`, contractID).
		Scan(&c.ID, &c.ContractID, &c.NegotiationID, &c.CampaignID, &c.CreatorID, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}
