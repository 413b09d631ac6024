package models

import "time"

// Transition is an allowed directed move between two states of one desk.
// The *StateName / ToStateColor fields are filled from desk_states on read.
type Transition struct {
	ID              int64     `json:"id" db:"id"`
	DeskID          int64     `json:"desk_id" db:"desk_id"`
	FromStateID     int64     `json:"from_state_id" db:"from_state_id"`
	ToStateID       int64     `json:"to_state_id" db:"to_state_id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	RequiresComment bool      `json:"requires_comment" db:"requires_comment"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`

	FromStateName string `json:"from_state_name,omitempty" db:"from_state_name"`
	ToStateName   string `json:"to_state_name,omitempty" db:"to_state_name"`
	ToStateColor  string `json:"to_state_color,omitempty" db:"to_state_color"`
}

type CreateTransitionRequest struct {
	DeskID          int64  `json:"-"`
	FromStateID     int64  `json:"from_state_id"`
	ToStateID       int64  `json:"to_state_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	RequiresComment bool   `json:"requires_comment"`
	IsActive        *bool  `json:"is_active"`
}

type TransitionPatch struct {
	FromStateID     *int64  `json:"from_state_id"`
	ToStateID       *int64  `json:"to_state_id"`
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	RequiresComment *bool   `json:"requires_comment"`
	IsActive        *bool   `json:"is_active"`
}

// TransitionOption is one move offered to the operator for a lead.
type TransitionOption struct {
	ID              int64  `json:"id"`
	ToStateID       int64  `json:"to_state_id"`
	ToStateName     string `json:"to_state_name"`
	ToStateColor    string `json:"to_state_color"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	RequiresComment bool   `json:"requires_comment"`
}

func (t *Transition) Option() TransitionOption {
	return TransitionOption{
		ID:              t.ID,
		ToStateID:       t.ToStateID,
		ToStateName:     t.ToStateName,
		ToStateColor:    t.ToStateColor,
		Name:            t.Name,
		Description:     t.Description,
		RequiresComment: t.RequiresComment,
	}
}
