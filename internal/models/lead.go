package models

import "time"

// Lead: только поля, нужные для работы со статусами.
type Lead struct {
	ID          int64     `json:"id" db:"id"`
	DeskID      int64     `json:"desk_id" db:"desk_id"`
	Title       string    `json:"title" db:"title"`
	OwnerID     int64     `json:"owner_id" db:"owner_id"`
	DeskStateID *int64    `json:"desk_state_id" db:"desk_state_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type CreateLeadRequest struct {
	DeskID int64  `json:"-"`
	Title  string `json:"title"`
}

type AvailableTransitions struct {
	LeadID       int64              `json:"lead_id"`
	CurrentState StateRef           `json:"current_state"`
	Transitions  []TransitionOption `json:"transitions"`
}

// ApplyTransitionRequest: тело POST /leads/:id/state.
type ApplyTransitionRequest struct {
	LeadID    int64   `json:"-"`
	UserID    int64   `json:"-"`
	ToStateID int64   `json:"to_state_id"`
	Comment   *string `json:"comment"`
}

type TransitionResult struct {
	LeadID       int64  `json:"lead_id"`
	NewStateID   int64  `json:"new_state_id"`
	NewStateName string `json:"new_state_name"`
	HistoryID    int64  `json:"history_id"`
}
