package models

import "time"

// DeskState is a named status a lead can be in, scoped to one desk.
type DeskState struct {
	ID          int64     `json:"id" db:"id"`
	DeskID      int64     `json:"desk_id" db:"desk_id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Description string    `json:"description" db:"description"`
	Color       string    `json:"color" db:"color"`
	Icon        string    `json:"icon" db:"icon"`
	IsInitial   bool      `json:"is_initial" db:"is_initial"`
	IsFinal     bool      `json:"is_final" db:"is_final"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	SortOrder   int       `json:"sort_order" db:"sort_order"`
	CreatedBy   *int64    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CreateStateRequest: тело POST /desks/:desk_id/states (desk_id берётся из пути).
type CreateStateRequest struct {
	DeskID      int64  `json:"-"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
	IsInitial   bool   `json:"is_initial"`
	IsFinal     bool   `json:"is_final"`
	IsActive    *bool  `json:"is_active"`
	SortOrder   *int   `json:"sort_order"`
}

// StatePatch carries a partial update: nil fields stay as they are.
type StatePatch struct {
	Name        *string `json:"name"`
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	Icon        *string `json:"icon"`
	IsInitial   *bool   `json:"is_initial"`
	IsFinal     *bool   `json:"is_final"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   *int    `json:"sort_order"`
}

type ToggleRequest struct {
	Active *bool `json:"active"`
}

type ReorderRequest struct {
	StateIDs []int64 `json:"state_ids"`
}

// StateRef is the short state descriptor returned alongside transitions.
type StateRef struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	IsFinal     bool   `json:"is_final"`
}

func (s *DeskState) Ref() StateRef {
	return StateRef{ID: s.ID, Name: s.Name, DisplayName: s.DisplayName, Color: s.Color, IsFinal: s.IsFinal}
}
