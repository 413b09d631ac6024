package services

import (
	"context"
	"fmt"
	"log/slog"

	"brokercrm/internal/apperr"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

// Workflow is a desk configuration template: states in display order and
// the moves between them, referenced by machine name.
type Workflow struct {
	States      []WorkflowState
	Transitions []WorkflowTransition
}

type WorkflowState struct {
	Name        string
	DisplayName string
	Color       string
	Icon        string
	Initial     bool
	Final       bool
}

type WorkflowTransition struct {
	From            string
	To              string
	Name            string
	RequiresComment bool
}

// DefaultLeadWorkflow: стандартная воронка лида.
var DefaultLeadWorkflow = Workflow{
	States: []WorkflowState{
		{Name: "new", DisplayName: "New", Color: "#0d6efd", Icon: "star", Initial: true},
		{Name: "in_review", DisplayName: "In review", Color: "#6f42c1", Icon: "search"},
		{Name: "confirmed", DisplayName: "Confirmed", Color: "#198754", Icon: "check"},
		{Name: "rejected", DisplayName: "Rejected", Color: "#dc3545", Icon: "x", Final: true},
		{Name: "converted", DisplayName: "Converted", Color: "#20c997", Icon: "trophy", Final: true},
	},
	Transitions: []WorkflowTransition{
		{From: "new", To: "in_review", Name: "Start review"},
		{From: "new", To: "confirmed", Name: "Confirm"},
		{From: "new", To: "rejected", Name: "Reject", RequiresComment: true},
		{From: "in_review", To: "confirmed", Name: "Confirm"},
		{From: "in_review", To: "rejected", Name: "Reject", RequiresComment: true},
		{From: "confirmed", To: "rejected", Name: "Reject", RequiresComment: true},
		{From: "confirmed", To: "converted", Name: "Convert", RequiresComment: true},
	},
}

// WorkflowService seeds a desk from a Workflow template.
type WorkflowService struct {
	store       repositories.Store
	states      *StateService
	transitions *TransitionService
	log         *slog.Logger
}

func NewWorkflowService(store repositories.Store, states *StateService, transitions *TransitionService, logger *slog.Logger) *WorkflowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowService{store: store, states: states, transitions: transitions, log: logger}
}

// Bootstrap creates every state and transition of wf in an empty desk, in
// one transaction. A desk that already has states is a conflict.
func (s *WorkflowService) Bootstrap(ctx context.Context, deskID, userID int64, wf Workflow) ([]models.DeskState, error) {
	var created []models.DeskState
	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		existing, err := tx.States().ListByDesk(ctx, deskID, false)
		if err != nil {
			return apperr.Internal("list states", err)
		}
		if len(existing) > 0 {
			return apperr.Conflict("desk %d already has %d state(s)", deskID, len(existing))
		}

		states := s.states.withStore(tx)
		transitions := s.transitions.withStore(tx)
		ids := make(map[string]int64, len(wf.States))
		for _, ws := range wf.States {
			st, err := states.Create(ctx, models.CreateStateRequest{
				DeskID:      deskID,
				Name:        ws.Name,
				DisplayName: ws.DisplayName,
				Color:       ws.Color,
				Icon:        ws.Icon,
				IsInitial:   ws.Initial,
				IsFinal:     ws.Final,
			}, userID)
			if err != nil {
				return err
			}
			ids[st.Name] = st.ID
			created = append(created, *st)
		}
		for _, wt := range wf.Transitions {
			from, okFrom := ids[wt.From]
			to, okTo := ids[wt.To]
			if !okFrom || !okTo {
				return apperr.Internal("bootstrap workflow", fmt.Errorf("transition %s -> %s references an unknown state", wt.From, wt.To))
			}
			_, err := transitions.Create(ctx, models.CreateTransitionRequest{
				DeskID:          deskID,
				FromStateID:     from,
				ToStateID:       to,
				Name:            wt.Name,
				RequiresComment: wt.RequiresComment,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("desk workflow bootstrapped", "desk_id", deskID, "states", len(created), "transitions", len(wf.Transitions))
	return created, nil
}
