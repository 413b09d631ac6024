package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokercrm/internal/database"
	"brokercrm/internal/models"
)

type StateRepository interface {
	ListByDesk(ctx context.Context, deskID int64, activeOnly bool) ([]models.DeskState, error)
	GetByID(ctx context.Context, id int64) (*models.DeskState, error)
	GetInitial(ctx context.Context, deskID int64) (*models.DeskState, error)
	NameTaken(ctx context.Context, deskID int64, name string, excludeID int64) (bool, error)
	NextSortOrder(ctx context.Context, deskID int64) (int, error)

	Create(ctx context.Context, s *models.DeskState) error
	Update(ctx context.Context, s *models.DeskState) error
	Delete(ctx context.Context, id int64) error
	SetSortOrder(ctx context.Context, deskID, id int64, order int) error
	ClearInitial(ctx context.Context, deskID, exceptID int64) error
}

type stateRepository struct {
	q database.Queryer
}

const stateColumns = `id, desk_id, name, display_name, description, color, icon,
	is_initial, is_final, is_active, sort_order, created_by, created_at, updated_at`

func (r *stateRepository) ListByDesk(ctx context.Context, deskID int64, activeOnly bool) ([]models.DeskState, error) {
	query := `SELECT ` + stateColumns + ` FROM desk_states WHERE desk_id = ?`
	args := []interface{}{deskID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY sort_order ASC, display_name ASC, id ASC`

	out := []models.DeskState{}
	if err := r.q.SelectContext(ctx, &out, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list desk states: %w", err)
	}
	return out, nil
}

func (r *stateRepository) GetByID(ctx context.Context, id int64) (*models.DeskState, error) {
	var s models.DeskState
	err := r.q.GetContext(ctx, &s, r.q.Rebind(`SELECT `+stateColumns+` FROM desk_states WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get desk state %d: %w", id, err)
	}
	return &s, nil
}

func (r *stateRepository) GetInitial(ctx context.Context, deskID int64) (*models.DeskState, error) {
	const query = `SELECT ` + stateColumns + ` FROM desk_states
		WHERE desk_id = ? AND is_initial = ? AND is_active = ?
		ORDER BY sort_order ASC, id ASC
		LIMIT 1`
	var s models.DeskState
	err := r.q.GetContext(ctx, &s, r.q.Rebind(query), deskID, true, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get initial state of desk %d: %w", deskID, err)
	}
	return &s, nil
}

func (r *stateRepository) NameTaken(ctx context.Context, deskID int64, name string, excludeID int64) (bool, error) {
	var n int
	err := r.q.GetContext(ctx, &n,
		r.q.Rebind(`SELECT COUNT(*) FROM desk_states WHERE desk_id = ? AND name = ? AND id <> ?`),
		deskID, name, excludeID)
	if err != nil {
		return false, fmt.Errorf("check state name: %w", err)
	}
	return n > 0, nil
}

func (r *stateRepository) NextSortOrder(ctx context.Context, deskID int64) (int, error) {
	var n int
	err := r.q.GetContext(ctx, &n,
		r.q.Rebind(`SELECT COALESCE(MAX(sort_order), 0) + 1 FROM desk_states WHERE desk_id = ?`), deskID)
	if err != nil {
		return 0, fmt.Errorf("next sort order: %w", err)
	}
	return n, nil
}

func (r *stateRepository) Create(ctx context.Context, s *models.DeskState) error {
	const query = `
		INSERT INTO desk_states (desk_id, name, display_name, description, color, icon,
			is_initial, is_final, is_active, sort_order, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	id, err := database.InsertID(ctx, r.q, query,
		s.DeskID, s.Name, s.DisplayName, s.Description, s.Color, s.Icon,
		s.IsInitial, s.IsFinal, s.IsActive, s.SortOrder, s.CreatedBy, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert desk state: %w", err)
	}
	s.ID = id
	return nil
}

func (r *stateRepository) Update(ctx context.Context, s *models.DeskState) error {
	const query = `
		UPDATE desk_states
		SET name = ?, display_name = ?, description = ?, color = ?, icon = ?,
			is_initial = ?, is_final = ?, is_active = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(query),
		s.Name, s.DisplayName, s.Description, s.Color, s.Icon,
		s.IsInitial, s.IsFinal, s.IsActive, s.SortOrder, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update desk state %d: %w", s.ID, err)
	}
	return nil
}

func (r *stateRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM desk_states WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete desk state %d: %w", id, err)
	}
	return nil
}

func (r *stateRepository) SetSortOrder(ctx context.Context, deskID, id int64, order int) error {
	_, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE desk_states SET sort_order = ? WHERE id = ? AND desk_id = ?`), order, id, deskID)
	if err != nil {
		return fmt.Errorf("set sort order of state %d: %w", id, err)
	}
	return nil
}

func (r *stateRepository) ClearInitial(ctx context.Context, deskID, exceptID int64) error {
	_, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE desk_states SET is_initial = ? WHERE desk_id = ? AND id <> ? AND is_initial = ?`),
		false, deskID, exceptID, true)
	if err != nil {
		return fmt.Errorf("clear initial state of desk %d: %w", deskID, err)
	}
	return nil
}
