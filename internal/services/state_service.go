package services

import (
	"context"
	"errors"
	"log/slog"

	"brokercrm/internal/apperr"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

// StateService manages the lead states of a desk.
type StateService struct {
	store   repositories.Store
	log     *slog.Logger
	metrics *Metrics
	now     clock
}

func NewStateService(store repositories.Store, logger *slog.Logger, metrics *Metrics) *StateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateService{store: store, log: logger, metrics: metrics, now: utcNow}
}

// withStore returns a copy bound to a transaction-scoped store.
func (s *StateService) withStore(store repositories.Store) *StateService {
	c := *s
	c.store = store
	return &c
}

func (s *StateService) List(ctx context.Context, deskID int64, activeOnly bool) ([]models.DeskState, error) {
	states, err := s.store.States().ListByDesk(ctx, deskID, activeOnly)
	if err != nil {
		return nil, apperr.Internal("list states", err)
	}
	return states, nil
}

func (s *StateService) Get(ctx context.Context, id int64) (*models.DeskState, error) {
	st, err := s.store.States().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "get state", "state %d not found", id)
	}
	return st, nil
}

// Initial returns the desk's initial state, or nil when it has none.
func (s *StateService) Initial(ctx context.Context, deskID int64) (*models.DeskState, error) {
	st, err := s.store.States().GetInitial(ctx, deskID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("get initial state", err)
	}
	return st, nil
}

func (s *StateService) Create(ctx context.Context, req models.CreateStateRequest, userID int64) (*models.DeskState, error) {
	if req.DeskID <= 0 {
		return nil, apperr.Validation("desk_id is required")
	}
	name, err := normalizeStateName(req.Name)
	if err != nil {
		return nil, err
	}
	display, err := normalizeDisplayName(req.DisplayName)
	if err != nil {
		return nil, err
	}
	desc, err := normalizeDescription(req.Description)
	if err != nil {
		return nil, err
	}
	color, err := normalizeColor(req.Color)
	if err != nil {
		return nil, err
	}

	now := s.now()
	st := &models.DeskState{
		DeskID:      req.DeskID,
		Name:        name,
		DisplayName: display,
		Description: desc,
		Color:       color,
		Icon:        normalizeIcon(req.Icon),
		IsInitial:   req.IsInitial,
		IsFinal:     req.IsFinal,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.IsActive != nil {
		st.IsActive = *req.IsActive
	}
	if userID > 0 {
		st.CreatedBy = &userID
	}

	err = s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Desks().GetByID(ctx, req.DeskID); err != nil {
			return notFound(err, "get desk", "desk %d not found", req.DeskID)
		}
		taken, err := tx.States().NameTaken(ctx, req.DeskID, name, 0)
		if err != nil {
			return apperr.Internal("check state name", err)
		}
		if taken {
			return apperr.Validation("state %q already exists in desk %d", name, req.DeskID)
		}
		if req.SortOrder != nil {
			st.SortOrder = *req.SortOrder
		} else if st.SortOrder, err = tx.States().NextSortOrder(ctx, req.DeskID); err != nil {
			return apperr.Internal("next sort order", err)
		}
		if st.IsInitial {
			if err := tx.States().ClearInitial(ctx, req.DeskID, 0); err != nil {
				return apperr.Internal("clear initial state", err)
			}
		}
		if err := tx.States().Create(ctx, st); err != nil {
			if repositories.IsDuplicate(err) {
				return apperr.Validation("state %q already exists in desk %d", name, req.DeskID)
			}
			return apperr.Internal("create state", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.configChanged("state", "create")
	s.log.Info("state created", "state_id", st.ID, "desk_id", st.DeskID, "name", st.Name, "initial", st.IsInitial)
	return st, nil
}

// Update applies the non-nil fields of patch.
func (s *StateService) Update(ctx context.Context, id int64, patch models.StatePatch) (*models.DeskState, error) {
	var st *models.DeskState
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		st, err = tx.States().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "get state", "state %d not found", id)
		}
		if err := applyStatePatch(st, patch); err != nil {
			return err
		}
		if patch.Name != nil {
			taken, err := tx.States().NameTaken(ctx, st.DeskID, st.Name, st.ID)
			if err != nil {
				return apperr.Internal("check state name", err)
			}
			if taken {
				return apperr.Validation("state %q already exists in desk %d", st.Name, st.DeskID)
			}
		}
		if patch.IsInitial != nil && *patch.IsInitial {
			if err := tx.States().ClearInitial(ctx, st.DeskID, st.ID); err != nil {
				return apperr.Internal("clear initial state", err)
			}
		}
		st.UpdatedAt = s.now()
		if err := tx.States().Update(ctx, st); err != nil {
			if repositories.IsDuplicate(err) {
				return apperr.Validation("state %q already exists in desk %d", st.Name, st.DeskID)
			}
			return apperr.Internal("update state", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.configChanged("state", "update")
	s.log.Info("state updated", "state_id", st.ID, "desk_id", st.DeskID)
	return st, nil
}

func applyStatePatch(st *models.DeskState, p models.StatePatch) error {
	if p.Name != nil {
		name, err := normalizeStateName(*p.Name)
		if err != nil {
			return err
		}
		st.Name = name
	}
	if p.DisplayName != nil {
		v, err := normalizeDisplayName(*p.DisplayName)
		if err != nil {
			return err
		}
		st.DisplayName = v
	}
	if p.Description != nil {
		v, err := normalizeDescription(*p.Description)
		if err != nil {
			return err
		}
		st.Description = v
	}
	if p.Color != nil {
		v, err := normalizeColor(*p.Color)
		if err != nil {
			return err
		}
		st.Color = v
	}
	if p.Icon != nil {
		st.Icon = normalizeIcon(*p.Icon)
	}
	if p.IsInitial != nil {
		st.IsInitial = *p.IsInitial
	}
	if p.IsFinal != nil {
		st.IsFinal = *p.IsFinal
	}
	if p.IsActive != nil {
		st.IsActive = *p.IsActive
	}
	if p.SortOrder != nil {
		st.SortOrder = *p.SortOrder
	}
	return nil
}

// Delete removes a state no lead is in, together with every transition
// that starts or ends at it.
func (s *StateService) Delete(ctx context.Context, id int64) error {
	var removed int64
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		st, err := tx.States().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "get state", "state %d not found", id)
		}
		n, err := tx.Leads().CountByState(ctx, id)
		if err != nil {
			return apperr.Internal("count leads in state", err)
		}
		if n > 0 {
			return apperr.Conflict("state %q is the current state of %d lead(s)", st.Name, n)
		}
		if removed, err = tx.Transitions().DeleteTouchingState(ctx, id); err != nil {
			return apperr.Internal("delete transitions of state", err)
		}
		if err := tx.States().Delete(ctx, id); err != nil {
			return apperr.Internal("delete state", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.configChanged("state", "delete")
	s.log.Info("state deleted", "state_id", id, "transitions_removed", removed)
	return nil
}

// Toggle sets is_active to active, or flips it when active is nil.
func (s *StateService) Toggle(ctx context.Context, id int64, active *bool) (*models.DeskState, error) {
	var st *models.DeskState
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		var err error
		st, err = tx.States().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "get state", "state %d not found", id)
		}
		if active != nil {
			st.IsActive = *active
		} else {
			st.IsActive = !st.IsActive
		}
		st.UpdatedAt = s.now()
		if err := tx.States().Update(ctx, st); err != nil {
			return apperr.Internal("toggle state", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.configChanged("state", "toggle")
	s.log.Info("state toggled", "state_id", id, "active", st.IsActive)
	return st, nil
}

// Reorder gives the listed states sort_order 1..N in the given order. Every
// id must belong to the desk; on any error nothing changes. States that are
// not listed keep their sort_order.
func (s *StateService) Reorder(ctx context.Context, deskID int64, ids []int64) error {
	if len(ids) == 0 {
		return apperr.Validation("state_ids must not be empty")
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return apperr.Validation("state %d is listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		states, err := tx.States().ListByDesk(ctx, deskID, false)
		if err != nil {
			return apperr.Internal("list states", err)
		}
		inDesk := make(map[int64]struct{}, len(states))
		for _, st := range states {
			inDesk[st.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := inDesk[id]; !ok {
				return apperr.Validation("state %d does not belong to desk %d", id, deskID)
			}
		}
		for i, id := range ids {
			if err := tx.States().SetSortOrder(ctx, deskID, id, i+1); err != nil {
				return apperr.Internal("reorder states", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.configChanged("state", "reorder")
	s.log.Info("states reordered", "desk_id", deskID, "count", len(ids))
	return nil
}
