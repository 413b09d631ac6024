package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokercrm/internal/database"
	"brokercrm/internal/models"
)

type TransitionRepository interface {
	ListByDesk(ctx context.Context, deskID int64) ([]models.Transition, error)
	ListActiveFrom(ctx context.Context, stateID int64) ([]models.Transition, error)
	GetByID(ctx context.Context, id int64) (*models.Transition, error)
	// FindActive returns the active transition from -> to, or ErrNotFound.
	FindActive(ctx context.Context, fromStateID, toStateID int64) (*models.Transition, error)
	EdgeExists(ctx context.Context, deskID, fromStateID, toStateID, excludeID int64) (bool, error)

	Create(ctx context.Context, t *models.Transition) error
	Update(ctx context.Context, t *models.Transition) error
	Delete(ctx context.Context, id int64) error
	DeleteTouchingState(ctx context.Context, stateID int64) (int64, error)
}

type transitionRepository struct {
	q database.Queryer
}

const transitionSelect = `
	SELECT t.id, t.desk_id, t.from_state_id, t.to_state_id, t.name, t.description,
		t.requires_comment, t.is_active, t.created_at, t.updated_at,
		COALESCE(fs.display_name, '') AS from_state_name,
		COALESCE(ts.display_name, '') AS to_state_name,
		COALESCE(ts.color, '') AS to_state_color
	FROM desk_state_transitions t
	LEFT JOIN desk_states fs ON fs.id = t.from_state_id
	LEFT JOIN desk_states ts ON ts.id = t.to_state_id`

func (r *transitionRepository) ListByDesk(ctx context.Context, deskID int64) ([]models.Transition, error) {
	query := transitionSelect + ` WHERE t.desk_id = ? ORDER BY fs.sort_order ASC, ts.sort_order ASC, t.id ASC`
	out := []models.Transition{}
	if err := r.q.SelectContext(ctx, &out, r.q.Rebind(query), deskID); err != nil {
		return nil, fmt.Errorf("list transitions of desk %d: %w", deskID, err)
	}
	return out, nil
}

func (r *transitionRepository) ListActiveFrom(ctx context.Context, stateID int64) ([]models.Transition, error) {
	query := transitionSelect + ` WHERE t.from_state_id = ? AND t.is_active = ? ORDER BY ts.sort_order ASC, t.id ASC`
	out := []models.Transition{}
	if err := r.q.SelectContext(ctx, &out, r.q.Rebind(query), stateID, true); err != nil {
		return nil, fmt.Errorf("list transitions from state %d: %w", stateID, err)
	}
	return out, nil
}

func (r *transitionRepository) GetByID(ctx context.Context, id int64) (*models.Transition, error) {
	return r.getOne(ctx, transitionSelect+` WHERE t.id = ?`, id)
}

func (r *transitionRepository) FindActive(ctx context.Context, fromStateID, toStateID int64) (*models.Transition, error) {
	return r.getOne(ctx,
		transitionSelect+` WHERE t.from_state_id = ? AND t.to_state_id = ? AND t.is_active = ?`,
		fromStateID, toStateID, true)
}

func (r *transitionRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Transition, error) {
	var t models.Transition
	err := r.q.GetContext(ctx, &t, r.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transition: %w", err)
	}
	return &t, nil
}

func (r *transitionRepository) EdgeExists(ctx context.Context, deskID, fromStateID, toStateID, excludeID int64) (bool, error) {
	var n int
	err := r.q.GetContext(ctx, &n, r.q.Rebind(`
		SELECT COUNT(*) FROM desk_state_transitions
		WHERE desk_id = ? AND from_state_id = ? AND to_state_id = ? AND id <> ?`),
		deskID, fromStateID, toStateID, excludeID)
	if err != nil {
		return false, fmt.Errorf("check transition edge: %w", err)
	}
	return n > 0, nil
}

func (r *transitionRepository) Create(ctx context.Context, t *models.Transition) error {
	const query = `
		INSERT INTO desk_state_transitions (desk_id, from_state_id, to_state_id, name, description,
			requires_comment, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	id, err := database.InsertID(ctx, r.q, query,
		t.DeskID, t.FromStateID, t.ToStateID, t.Name, t.Description,
		t.RequiresComment, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	t.ID = id
	return nil
}

func (r *transitionRepository) Update(ctx context.Context, t *models.Transition) error {
	const query = `
		UPDATE desk_state_transitions
		SET from_state_id = ?, to_state_id = ?, name = ?, description = ?,
			requires_comment = ?, is_active = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(query),
		t.FromStateID, t.ToStateID, t.Name, t.Description,
		t.RequiresComment, t.IsActive, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transition %d: %w", t.ID, err)
	}
	return nil
}

func (r *transitionRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM desk_state_transitions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete transition %d: %w", id, err)
	}
	return nil
}

func (r *transitionRepository) DeleteTouchingState(ctx context.Context, stateID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		r.q.Rebind(`DELETE FROM desk_state_transitions WHERE from_state_id = ? OR to_state_id = ?`),
		stateID, stateID)
	if err != nil {
		return 0, fmt.Errorf("delete transitions of state %d: %w", stateID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
