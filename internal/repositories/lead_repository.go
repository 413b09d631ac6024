package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brokercrm/internal/database"
	"brokercrm/internal/models"
)

type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id int64) (*models.Lead, error)
	// GetForUpdate locks the lead row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Lead, error)
	UpdateState(ctx context.Context, id, stateID int64, at time.Time) error
	CountByState(ctx context.Context, stateID int64) (int, error)
}

type leadRepository struct {
	q database.Queryer
}

const leadColumns = `id, desk_id, title, owner_id, desk_state_id, created_at, updated_at`

func (r *leadRepository) Create(ctx context.Context, lead *models.Lead) error {
	const query = `
		INSERT INTO leads (desk_id, title, owner_id, desk_state_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	id, err := database.InsertID(ctx, r.q, query,
		lead.DeskID, lead.Title, lead.OwnerID, lead.DeskStateID, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	lead.ID = id
	return nil
}

func (r *leadRepository) GetByID(ctx context.Context, id int64) (*models.Lead, error) {
	return r.get(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
}

func (r *leadRepository) GetForUpdate(ctx context.Context, id int64) (*models.Lead, error) {
	return r.get(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ? FOR UPDATE`, id)
}

func (r *leadRepository) get(ctx context.Context, query string, id int64) (*models.Lead, error) {
	var l models.Lead
	err := r.q.GetContext(ctx, &l, r.q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %d: %w", id, err)
	}
	return &l, nil
}

func (r *leadRepository) UpdateState(ctx context.Context, id, stateID int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE leads SET desk_state_id = ?, updated_at = ? WHERE id = ?`), stateID, at, id)
	if err != nil {
		return fmt.Errorf("update state of lead %d: %w", id, err)
	}
	return nil
}

func (r *leadRepository) CountByState(ctx context.Context, stateID int64) (int, error) {
	var n int
	if err := r.q.GetContext(ctx, &n, r.q.Rebind(`SELECT COUNT(*) FROM leads WHERE desk_state_id = ?`), stateID); err != nil {
		return 0, fmt.Errorf("count leads in state %d: %w", stateID, err)
	}
	return n, nil
}
