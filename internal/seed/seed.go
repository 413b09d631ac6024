// Package seed creates the first admin user and a demo desk so a fresh
// database can be used right away. Every step is skipped when its data
// already exists.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brokercrm/internal/apperr"
	"brokercrm/internal/authz"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
	"brokercrm/internal/services"
)

type Options struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
	DeskName      string
}

type Result struct {
	AdminID       int64
	AdminCreated  bool
	DeskID        int64
	DeskCreated   bool
	StatesCreated int
}

func Run(ctx context.Context, store repositories.Store, users *services.UserService, wf *services.WorkflowService, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.AdminEmail == "" || opts.DeskName == "" {
		return nil, errors.New("seed: admin email and desk name are required")
	}
	res := &Result{}

	admin, err := users.GetByEmail(ctx, opts.AdminEmail)
	switch {
	case err == nil:
		res.AdminID = admin.ID
	case apperr.Is(err, apperr.KindNotFound):
		if opts.AdminPassword == "" {
			return nil, errors.New("seed: admin password is required to create the admin user")
		}
		name := opts.AdminName
		if name == "" {
			name = "Administrator"
		}
		u := &models.User{Name: name, Email: opts.AdminEmail, RoleID: authz.RoleAdmin}
		if err := users.CreateUserWithPassword(ctx, u, opts.AdminPassword); err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		}
		res.AdminID, res.AdminCreated = u.ID, true
		logger.Info("admin user created", "user_id", u.ID, "email", u.Email)
	default:
		return nil, fmt.Errorf("seed admin: %w", err)
	}

	desk, err := store.Desks().GetByName(ctx, opts.DeskName)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrNotFound):
		desk = &models.Desk{Name: opts.DeskName, CreatedAt: time.Now().UTC()}
		if err := store.Desks().Create(ctx, desk); err != nil {
			return nil, fmt.Errorf("seed desk: %w", err)
		}
		res.DeskCreated = true
		logger.Info("desk created", "desk_id", desk.ID, "name", desk.Name)
	default:
		return nil, fmt.Errorf("seed desk: %w", err)
	}
	res.DeskID = desk.ID

	states, err := wf.Bootstrap(ctx, desk.ID, res.AdminID, services.DefaultLeadWorkflow)
	switch {
	case err == nil:
		res.StatesCreated = len(states)
	case apperr.Is(err, apperr.KindConflict):
		logger.Info("desk already configured", "desk_id", desk.ID)
	default:
		return nil, fmt.Errorf("seed workflow: %w", err)
	}
	return res, nil
}
