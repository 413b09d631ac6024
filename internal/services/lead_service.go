package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"brokercrm/internal/apperr"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

const notifyTimeout = 15 * time.Second

// LeadStateService moves leads between the states of their desk.
type LeadStateService struct {
	store     repositories.Store
	notifier  Notifier
	notifyAll bool
	log       *slog.Logger
	metrics   *Metrics
	now       clock

	pending sync.WaitGroup
}

type LeadStateOption func(*LeadStateService)

// WithNotifier sends a TransitionEvent after every committed transition into
// a final state, or after every transition when all is true.
func WithNotifier(n Notifier, all bool) LeadStateOption {
	return func(s *LeadStateService) {
		s.notifier = n
		s.notifyAll = all
	}
}

func WithLeadMetrics(m *Metrics) LeadStateOption {
	return func(s *LeadStateService) { s.metrics = m }
}

func NewLeadStateService(store repositories.Store, logger *slog.Logger, opts ...LeadStateOption) *LeadStateService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LeadStateService{store: store, log: logger, now: utcNow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AvailableTransitions lists the active transitions out of the lead's
// current state. A final state offers none.
func (s *LeadStateService) AvailableTransitions(ctx context.Context, leadID int64) (*models.AvailableTransitions, error) {
	lead, err := s.store.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, notFound(err, "get lead", "lead %d not found", leadID)
	}
	if lead.DeskStateID == nil {
		return nil, apperr.NotFound("lead %d has no current state", leadID)
	}
	cur, err := s.store.States().GetByID(ctx, *lead.DeskStateID)
	if err != nil {
		return nil, notFound(err, "get state", "current state %d of lead %d not found", *lead.DeskStateID, leadID)
	}

	out := &models.AvailableTransitions{
		LeadID:       lead.ID,
		CurrentState: cur.Ref(),
		Transitions:  []models.TransitionOption{},
	}
	if cur.IsFinal {
		return out, nil
	}
	list, err := s.store.Transitions().ListActiveFrom(ctx, cur.ID)
	if err != nil {
		return nil, apperr.Internal("list transitions", err)
	}
	for i := range list {
		out.Transitions = append(out.Transitions, list[i].Option())
	}
	return out, nil
}

// ApplyTransition moves the lead to req.ToStateID. The lead row is locked,
// the move is validated against the state it is in at that moment, and the
// lead update and history row are committed together or not at all.
func (s *LeadStateService) ApplyTransition(ctx context.Context, req models.ApplyTransitionRequest) (*models.TransitionResult, error) {
	res, ev, err := s.applyTransition(ctx, req)
	if err != nil {
		s.metrics.transitionRejected(err)
		if !apperr.Is(err, apperr.KindInternal) {
			s.log.Info("transition rejected", "lead_id", req.LeadID, "to_state_id", req.ToStateID,
				"kind", apperr.KindOf(err), "reason", err.Error())
		}
		return nil, err
	}

	s.metrics.transitionApplied(idLabel(ev.DeskID), ev.ToState)
	s.log.Info("lead state changed", "lead_id", res.LeadID, "history_id", res.HistoryID,
		"from", ev.FromState, "to", ev.ToState, "user_id", req.UserID)
	if ev.IsFinal || s.notifyAll {
		s.notify(ctx, *ev)
	}
	return res, nil
}

func (s *LeadStateService) applyTransition(ctx context.Context, req models.ApplyTransitionRequest) (*models.TransitionResult, *TransitionEvent, error) {
	if req.LeadID <= 0 {
		return nil, nil, apperr.Validation("lead id is required")
	}
	if req.ToStateID <= 0 {
		return nil, nil, apperr.Validation("to_state_id is required")
	}
	comment := normalizeComment(req.Comment)

	var (
		res *models.TransitionResult
		ev  *TransitionEvent
	)
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		lead, err := tx.Leads().GetForUpdate(ctx, req.LeadID)
		if err != nil {
			return notFound(err, "lock lead", "lead %d not found", req.LeadID)
		}
		if lead.DeskStateID == nil {
			return apperr.IllegalTransition("lead %d has no current state", lead.ID)
		}
		cur, err := tx.States().GetByID(ctx, *lead.DeskStateID)
		if err != nil {
			return notFound(err, "get state", "current state %d of lead %d not found", *lead.DeskStateID, lead.ID)
		}
		if cur.IsFinal {
			return apperr.IllegalTransition("lead %d is in final state %q", lead.ID, cur.DisplayName)
		}

		tr, err := tx.Transitions().FindActive(ctx, cur.ID, req.ToStateID)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.IllegalTransition("no active transition from %q to state %d", cur.DisplayName, req.ToStateID)
		}
		if err != nil {
			return apperr.Internal("find transition", err)
		}
		if tr.DeskID != lead.DeskID {
			return apperr.IllegalTransition("transition %d does not belong to desk %d", tr.ID, lead.DeskID)
		}
		if tr.RequiresComment && comment == nil {
			return apperr.Validation("a comment is required to move from %q to %q", cur.DisplayName, tr.ToStateName)
		}
		target, err := tx.States().GetByID(ctx, req.ToStateID)
		if err != nil {
			return notFound(err, "get state", "state %d not found", req.ToStateID)
		}

		now := s.now()
		if err := tx.Leads().UpdateState(ctx, lead.ID, target.ID, now); err != nil {
			return apperr.Internal("update lead state", err)
		}
		entry := &models.HistoryEntry{
			LeadID:      lead.ID,
			FromStateID: &cur.ID,
			ToStateID:   target.ID,
			UserID:      req.UserID,
			Comment:     comment,
			CreatedAt:   now,
		}
		if _, err := tx.History().Append(ctx, entry); err != nil {
			return apperr.Internal("append history", err)
		}

		res = &models.TransitionResult{
			LeadID:       lead.ID,
			NewStateID:   target.ID,
			NewStateName: target.DisplayName,
			HistoryID:    entry.ID,
		}
		ev = &TransitionEvent{
			LeadID:    lead.ID,
			LeadTitle: lead.Title,
			DeskID:    lead.DeskID,
			FromState: cur.DisplayName,
			ToState:   target.DisplayName,
			IsFinal:   target.IsFinal,
			UserID:    req.UserID,
			Comment:   comment,
			At:        now,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, ev, nil
}

// CreateLead creates a lead at the desk's initial state and records the
// initial placement in the history.
func (s *LeadStateService) CreateLead(ctx context.Context, req models.CreateLeadRequest, ownerID int64) (*models.Lead, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if req.DeskID <= 0 {
		return nil, apperr.Validation("desk_id is required")
	}

	var lead *models.Lead
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Desks().GetByID(ctx, req.DeskID); err != nil {
			return notFound(err, "get desk", "desk %d not found", req.DeskID)
		}
		initial, err := tx.States().GetInitial(ctx, req.DeskID)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.Validation("desk %d has no active initial state", req.DeskID)
		}
		if err != nil {
			return apperr.Internal("get initial state", err)
		}

		now := s.now()
		lead = &models.Lead{
			DeskID:      req.DeskID,
			Title:       title,
			OwnerID:     ownerID,
			DeskStateID: &initial.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Leads().Create(ctx, lead); err != nil {
			return apperr.Internal("create lead", err)
		}
		_, err = tx.History().Append(ctx, &models.HistoryEntry{
			LeadID:    lead.ID,
			ToStateID: initial.ID,
			UserID:    ownerID,
			CreatedAt: now,
		})
		if err != nil {
			return apperr.Internal("append history", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.leadCreated(idLabel(lead.DeskID))
	s.log.Info("lead created", "lead_id", lead.ID, "desk_id", lead.DeskID, "state_id", *lead.DeskStateID)
	return lead, nil
}

// AssignInitialState places a lead that has no state yet at its desk's
// initial state.
func (s *LeadStateService) AssignInitialState(ctx context.Context, leadID, userID int64) (*models.TransitionResult, error) {
	var res *models.TransitionResult
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		lead, err := tx.Leads().GetForUpdate(ctx, leadID)
		if err != nil {
			return notFound(err, "lock lead", "lead %d not found", leadID)
		}
		if lead.DeskStateID != nil {
			return apperr.Conflict("lead %d already has a state", leadID)
		}
		initial, err := tx.States().GetInitial(ctx, lead.DeskID)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.Validation("desk %d has no active initial state", lead.DeskID)
		}
		if err != nil {
			return apperr.Internal("get initial state", err)
		}
		now := s.now()
		if err := tx.Leads().UpdateState(ctx, lead.ID, initial.ID, now); err != nil {
			return apperr.Internal("update lead state", err)
		}
		entry := &models.HistoryEntry{LeadID: lead.ID, ToStateID: initial.ID, UserID: userID, CreatedAt: now}
		if _, err := tx.History().Append(ctx, entry); err != nil {
			return apperr.Internal("append history", err)
		}
		res = &models.TransitionResult{
			LeadID:       lead.ID,
			NewStateID:   initial.ID,
			NewStateName: initial.DisplayName,
			HistoryID:    entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("initial state assigned", "lead_id", leadID, "state_id", res.NewStateID)
	return res, nil
}

// notify runs outside the request: the transition is committed already and a
// failing channel is only logged.
func (s *LeadStateService) notify(ctx context.Context, ev TransitionEvent) {
	if s.notifier == nil {
		return
	}
	if u, err := s.store.Users().GetByID(ctx, ev.UserID); err == nil {
		ev.UserName = u.Name
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyTransition(nctx, ev); err != nil {
			s.log.Warn("notify transition", "lead_id", ev.LeadID, "err", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *LeadStateService) Wait() {
	s.pending.Wait()
}
