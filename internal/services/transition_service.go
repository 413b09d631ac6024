package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"brokercrm/internal/apperr"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

// TransitionService manages the allowed moves between states of a desk.
type TransitionService struct {
	store   repositories.Store
	log     *slog.Logger
	metrics *Metrics
	now     clock
}

func NewTransitionService(store repositories.Store, logger *slog.Logger, metrics *Metrics) *TransitionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionService{store: store, log: logger, metrics: metrics, now: utcNow}
}

func (s *TransitionService) withStore(store repositories.Store) *TransitionService {
	c := *s
	c.store = store
	return &c
}

func (s *TransitionService) List(ctx context.Context, deskID int64) ([]models.Transition, error) {
	list, err := s.store.Transitions().ListByDesk(ctx, deskID)
	if err != nil {
		return nil, apperr.Internal("list transitions", err)
	}
	return list, nil
}

// ListFrom returns the active transitions leaving a state.
func (s *TransitionService) ListFrom(ctx context.Context, stateID int64) ([]models.Transition, error) {
	if _, err := s.store.States().GetByID(ctx, stateID); err != nil {
		return nil, notFound(err, "get state", "state %d not found", stateID)
	}
	list, err := s.store.Transitions().ListActiveFrom(ctx, stateID)
	if err != nil {
		return nil, apperr.Internal("list transitions", err)
	}
	return list, nil
}

func (s *TransitionService) Get(ctx context.Context, id int64) (*models.Transition, error) {
	t, err := s.store.Transitions().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "get transition", "transition %d not found", id)
	}
	return t, nil
}

// checkEndpoints validates that both states exist, differ, belong to deskID,
// and that no other transition of the desk already connects them.
func checkEndpoints(ctx context.Context, tx repositories.Store, deskID, fromID, toID, excludeID int64) (from, to *models.DeskState, err error) {
	if fromID <= 0 || toID <= 0 {
		return nil, nil, apperr.Validation("from_state_id and to_state_id are required")
	}
	if fromID == toID {
		return nil, nil, apperr.Validation("a transition must connect two different states")
	}
	load := func(field string, id int64) (*models.DeskState, error) {
		st, err := tx.States().GetByID(ctx, id)
		if err != nil {
			return nil, notFoundAsValidation(err, "%s %d does not exist", field, id)
		}
		if st.DeskID != deskID {
			return nil, apperr.Validation("%s %d belongs to desk %d, not desk %d", field, id, st.DeskID, deskID)
		}
		return st, nil
	}
	if from, err = load("from_state_id", fromID); err != nil {
		return nil, nil, err
	}
	if to, err = load("to_state_id", toID); err != nil {
		return nil, nil, err
	}
	exists, err := tx.Transitions().EdgeExists(ctx, deskID, fromID, toID, excludeID)
	if err != nil {
		return nil, nil, apperr.Internal("check transition", err)
	}
	if exists {
		return nil, nil, apperr.Validation("transition from %q to %q already exists", from.Name, to.Name)
	}
	return from, to, nil
}

// notFoundAsValidation reports a missing referenced row as a bad request.
func notFoundAsValidation(err error, format string, args ...any) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return apperr.Validation(format, args...)
	}
	return apperr.Internal("get state", err)
}

func (s *TransitionService) Create(ctx context.Context, req models.CreateTransitionRequest) (*models.Transition, error) {
	if req.DeskID <= 0 {
		return nil, apperr.Validation("desk_id is required")
	}
	desc, err := normalizeDescription(req.Description)
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &models.Transition{
		DeskID:          req.DeskID,
		FromStateID:     req.FromStateID,
		ToStateID:       req.ToStateID,
		Name:            strings.TrimSpace(req.Name),
		Description:     desc,
		RequiresComment: req.RequiresComment,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}

	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Desks().GetByID(ctx, req.DeskID); err != nil {
			return notFound(err, "get desk", "desk %d not found", req.DeskID)
		}
		from, to, err := checkEndpoints(ctx, tx, req.DeskID, req.FromStateID, req.ToStateID, 0)
		if err != nil {
			return err
		}
		if t.Name == "" {
			t.Name = to.DisplayName
		}
		if err := tx.Transitions().Create(ctx, t); err != nil {
			if repositories.IsDuplicate(err) {
				return apperr.Validation("transition from %q to %q already exists", from.Name, to.Name)
			}
			return apperr.Internal("create transition", err)
		}
		t.FromStateName, t.ToStateName, t.ToStateColor = from.DisplayName, to.DisplayName, to.Color
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.configChanged("transition", "create")
	s.log.Info("transition created", "transition_id", t.ID, "desk_id", t.DeskID,
		"from_state_id", t.FromStateID, "to_state_id", t.ToStateID)
	return t, nil
}

func (s *TransitionService) Update(ctx context.Context, id int64, patch models.TransitionPatch) (*models.Transition, error) {
	var t *models.Transition
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		t, err = tx.Transitions().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "get transition", "transition %d not found", id)
		}
		if patch.FromStateID != nil || patch.ToStateID != nil {
			if patch.FromStateID != nil {
				t.FromStateID = *patch.FromStateID
			}
			if patch.ToStateID != nil {
				t.ToStateID = *patch.ToStateID
			}
			from, to, err := checkEndpoints(ctx, tx, t.DeskID, t.FromStateID, t.ToStateID, t.ID)
			if err != nil {
				return err
			}
			t.FromStateName, t.ToStateName, t.ToStateColor = from.DisplayName, to.DisplayName, to.Color
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperr.Validation("name must not be empty")
			}
			t.Name = name
		}
		if patch.Description != nil {
			if t.Description, err = normalizeDescription(*patch.Description); err != nil {
				return err
			}
		}
		if patch.RequiresComment != nil {
			t.RequiresComment = *patch.RequiresComment
		}
		if patch.IsActive != nil {
			t.IsActive = *patch.IsActive
		}
		t.UpdatedAt = s.now()
		if err := tx.Transitions().Update(ctx, t); err != nil {
			if repositories.IsDuplicate(err) {
				return apperr.Validation("transition between these states already exists")
			}
			return apperr.Internal("update transition", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.configChanged("transition", "update")
	s.log.Info("transition updated", "transition_id", t.ID)
	return t, nil
}

func (s *TransitionService) Delete(ctx context.Context, id int64) error {
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Transitions().GetByID(ctx, id); err != nil {
			return notFound(err, "get transition", "transition %d not found", id)
		}
		if err := tx.Transitions().Delete(ctx, id); err != nil {
			return apperr.Internal("delete transition", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.configChanged("transition", "delete")
	s.log.Info("transition deleted", "transition_id", id)
	return nil
}

// Toggle sets is_active to active, or flips it when active is nil.
func (s *TransitionService) Toggle(ctx context.Context, id int64, active *bool) (*models.Transition, error) {
	var t *models.Transition
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		t, err = tx.Transitions().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "get transition", "transition %d not found", id)
		}
		if active != nil {
			t.IsActive = *active
		} else {
			t.IsActive = !t.IsActive
		}
		t.UpdatedAt = s.now()
		if err := tx.Transitions().Update(ctx, t); err != nil {
			return apperr.Internal("toggle transition", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.configChanged("transition", "toggle")
	s.log.Info("transition toggled", "transition_id", id, "active", t.IsActive)
	return t, nil
}
