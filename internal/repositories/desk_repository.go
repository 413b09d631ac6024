package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokercrm/internal/database"
	"brokercrm/internal/models"
)

type DeskRepository interface {
	Create(ctx context.Context, d *models.Desk) error
	GetByID(ctx context.Context, id int64) (*models.Desk, error)
	GetByName(ctx context.Context, name string) (*models.Desk, error)
}

type deskRepository struct {
	q database.Queryer
}

func (r *deskRepository) Create(ctx context.Context, d *models.Desk) error {
	id, err := database.InsertID(ctx, r.q, `INSERT INTO desks (name, created_at) VALUES (?, ?)`, d.Name, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert desk: %w", err)
	}
	d.ID = id
	return nil
}

func (r *deskRepository) GetByID(ctx context.Context, id int64) (*models.Desk, error) {
	return r.get(ctx, `SELECT id, name, created_at FROM desks WHERE id = ?`, id)
}

func (r *deskRepository) GetByName(ctx context.Context, name string) (*models.Desk, error) {
	return r.get(ctx, `SELECT id, name, created_at FROM desks WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (r *deskRepository) get(ctx context.Context, query string, arg interface{}) (*models.Desk, error) {
	var d models.Desk
	err := r.q.GetContext(ctx, &d, r.q.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get desk: %w", err)
	}
	return &d, nil
}
