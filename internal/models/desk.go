package models

import "time"

// Desk is a team that owns its own set of lead states and transitions.
type Desk struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
