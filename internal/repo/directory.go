package repo

import (
	"context"
	"database/sql"

	"dealroom/internal/domain"
)

func (r Repo) UpsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	deliverables, err := marshalJSON(c.DefaultDeliverables)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO campaigns(id,name,budget_min,budget_max,default_deliverables_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, budget_min=excluded.budget_min, budget_max=excluded.budget_max,
default_deliverables_json=excluded.default_deliverables_json, updated_at=excluded.updated_at`,
		c.ID, c.Name, c.Budget.Min, c.Budget.Max, deliverables, c.UpdatedAt)
	return err
}

func (r Repo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	var deliverables sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,budget_min,budget_max,default_deliverables_json,updated_at FROM campaigns WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Budget.Min, &c.Budget.Max, &deliverables, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	return c, unmarshalJSON(deliverables, &c.DefaultDeliverables)
}

func (r Repo) UpsertCreator(ctx context.Context, tx *sql.Tx, p domain.CreatorProfile) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO creators(id,display_name,engagement_rate,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, engagement_rate=excluded.engagement_rate, updated_at=excluded.updated_at`,
		p.ID, p.DisplayName, p.EngagementRate, p.UpdatedAt)
	return err
}

func (r Repo) GetCreator(ctx context.Context, id string) (domain.CreatorProfile, error) {
	var p domain.CreatorProfile
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_name,engagement_rate,updated_at FROM creators WHERE id=?`, id).
		Scan(&p.ID, &p.DisplayName, &p.EngagementRate, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// InsertCommunication stores an inbound message once; replays of the same id are ignored.
func (r Repo) InsertCommunication(ctx context.Context, tx *sql.Tx, c domain.Communication) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO communications(id,campaign_id,creator_id,subject,content,received_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		c.ID, c.CampaignID, c.CreatorID, nullable(c.Subject), c.Content, c.ReceivedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetCommunication(ctx context.Context, tx *sql.Tx, id string) (domain.Communication, error) {
	var c domain.Communication
	var subject sql.NullString
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,campaign_id,creator_id,subject,content,received_at FROM communications WHERE id=?`, id).
		Scan(&c.ID, &c.CampaignID, &c.CreatorID, &subject, &c.Content, &c.ReceivedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if subject.Valid {
		c.Subject = subject.String
	}
	return c, err
}
