package models

import "time"

// HistoryEntry is an immutable record of one state change of a lead.
// FromStateName, ToStateName and UserName are resolved on read.
type HistoryEntry struct {
	ID          int64     `json:"id" db:"id"`
	LeadID      int64     `json:"lead_id" db:"lead_id"`
	FromStateID *int64    `json:"from_state_id" db:"from_state_id"`
	ToStateID   int64     `json:"to_state_id" db:"to_state_id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	Comment     *string   `json:"comment,omitempty" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`

	FromStateName string `json:"from_state_name" db:"from_state_name"`
	ToStateName   string `json:"to_state_name" db:"to_state_name"`
	UserName      string `json:"user_name" db:"user_name"`
}

type HistoryPage struct {
	LeadID  int64          `json:"lead_id"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Entries []HistoryEntry `json:"entries"`
}
