package repo

import (
	"context"
	"database/sql"
	"strings"

	"dealroom/internal/domain"
)

const negotiationColumns = `id,campaign_id,creator_id,communication_id,status,current_round,max_rounds,creator_terms_json,current_terms_json,ai_analysis_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNegotiation(row rowScanner) (domain.Negotiation, error) {
	var n domain.Negotiation
	var creatorTerms, currentTerms, analysis sql.NullString
	if err := row.Scan(&n.ID, &n.CampaignID, &n.CreatorID, &n.CommunicationID, &n.Status, &n.CurrentRound, &n.MaxRounds,
		&creatorTerms, &currentTerms, &analysis, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return n, err
	}
	if err := unmarshalJSON(creatorTerms, &n.CreatorTerms); err != nil {
		return n, err
	}
	if err := unmarshalJSON(currentTerms, &n.CurrentTerms); err != nil {
		return n, err
	}
	if err := unmarshalJSON(analysis, &n.AIAnalysis); err != nil {
		return n, err
	}
	return n, nil
}

// InsertNegotiation creates the negotiation for its (campaign, creator) pair.
// It reports false when a negotiation for the pair already exists.
func (r Repo) InsertNegotiation(ctx context.Context, tx *sql.Tx, n domain.Negotiation) (bool, error) {
	creatorTerms, err := marshalJSON(n.CreatorTerms)
	if err != nil {
		return false, err
	}
	currentTerms, err := marshalJSON(n.CurrentTerms)
	if err != nil {
		return false, err
	}
	analysis, err := marshalJSON(n.AIAnalysis)
	if err != nil {
		return false, err
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO negotiations(`+negotiationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(campaign_id, creator_id) DO NOTHING`,
		n.ID, n.CampaignID, n.CreatorID, n.CommunicationID, n.Status, n.CurrentRound, n.MaxRounds,
		creatorTerms, currentTerms, analysis, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r Repo) GetNegotiation(ctx context.Context, tx *sql.Tx, id string) (domain.Negotiation, error) {
	n, err := scanNegotiation(r.on(tx).QueryRowContext(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) GetNegotiationByPair(ctx context.Context, tx *sql.Tx, campaignID, creatorID string) (domain.Negotiation, error) {
	n, err := scanNegotiation(r.on(tx).QueryRowContext(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE campaign_id=? AND creator_id=?`, campaignID, creatorID))
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

type NegotiationFilter struct {
	CampaignID string
	CreatorID  string
	Status     string
	Limit      int
}

func (r Repo) ListNegotiations(ctx context.Context, f NegotiationFilter) ([]domain.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations`
	var where []string
	var args []any
	if f.CampaignID != "" {
		where = append(where, "campaign_id=?")
		args = append(args, f.CampaignID)
	}
	if f.CreatorID != "" {
		where = append(where, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AdvanceNegotiation writes the next round counter, current terms and status, but only if
// current_round still equals expectedRound. A lost race returns ErrConflict.
func (r Repo) AdvanceNegotiation(ctx context.Context, tx *sql.Tx, n domain.Negotiation, expectedRound int) error {
	currentTerms, err := marshalJSON(n.CurrentTerms)
	if err != nil {
		return err
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE negotiations SET current_round=?, current_terms_json=?, status=?, updated_at=?
WHERE id=? AND current_round=?`,
		n.CurrentRound, currentTerms, n.Status, n.UpdatedAt, n.ID, expectedRound)
	if err != nil {
		return err
	}
	return affectedOrConflict(res)
}

// TransitionNegotiation moves status from one value to another; ErrConflict when the
// stored status no longer matches from.
func (r Repo) TransitionNegotiation(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE negotiations SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return err
	}
	return affectedOrConflict(res)
}

func (r Repo) InsertRound(ctx context.Context, tx *sql.Tx, rd domain.NegotiationRound) error {
	terms, err := marshalJSON(rd.ProposedTerms)
	if err != nil {
		return err
	}
	analysis, err := marshalJSON(rd.AIAnalysis)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO negotiation_rounds(id,negotiation_id,round_number,initiated_by,proposed_terms_json,ai_analysis_json,response_type,response_message,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rd.ID, rd.NegotiationID, rd.RoundNumber, rd.InitiatedBy, terms, analysis, rd.ResponseType, rd.ResponseMessage, rd.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) ListRounds(ctx context.Context, tx *sql.Tx, negotiationID string) ([]domain.NegotiationRound, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,negotiation_id,round_number,initiated_by,proposed_terms_json,ai_analysis_json,response_type,response_message,created_at
FROM negotiation_rounds WHERE negotiation_id=? ORDER BY round_number`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.NegotiationRound
	for rows.Next() {
		var rd domain.NegotiationRound
		var terms, analysis sql.NullString
		if err := rows.Scan(&rd.ID, &rd.NegotiationID, &rd.RoundNumber, &rd.InitiatedBy, &terms, &analysis,
			&rd.ResponseType, &rd.ResponseMessage, &rd.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(terms, &rd.ProposedTerms); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(analysis, &rd.AIAnalysis); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}
