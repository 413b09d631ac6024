package repositories

import (
	"context"
	"fmt"

	"brokercrm/internal/database"
	"brokercrm/internal/models"
)

// HistoryRepository is append-only: there is no update or delete.
type HistoryRepository interface {
	Append(ctx context.Context, e *models.HistoryEntry) (int64, error)
	ListForLead(ctx context.Context, leadID int64, limit, offset int) ([]models.HistoryEntry, error)
	CountForLead(ctx context.Context, leadID int64) (int, error)
}

type historyRepository struct {
	q database.Queryer
}

func (r *historyRepository) Append(ctx context.Context, e *models.HistoryEntry) (int64, error) {
	const query = `
		INSERT INTO lead_state_history (lead_id, from_state_id, to_state_id, user_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	id, err := database.InsertID(ctx, r.q, query,
		e.LeadID, e.FromStateID, e.ToStateID, e.UserID, e.Comment, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert history for lead %d: %w", e.LeadID, err)
	}
	e.ID = id
	return id, nil
}

// ListForLead returns newest entries first; id breaks ties between equal timestamps.
func (r *historyRepository) ListForLead(ctx context.Context, leadID int64, limit, offset int) ([]models.HistoryEntry, error) {
	const query = `
		SELECT h.id, h.lead_id, h.from_state_id, h.to_state_id, h.user_id, h.comment, h.created_at,
			COALESCE(fs.display_name, '') AS from_state_name,
			COALESCE(ts.display_name, '') AS to_state_name,
			COALESCE(u.name, '') AS user_name
		FROM lead_state_history h
		LEFT JOIN desk_states fs ON fs.id = h.from_state_id
		LEFT JOIN desk_states ts ON ts.id = h.to_state_id
		LEFT JOIN users u ON u.id = h.user_id
		WHERE h.lead_id = ?
		ORDER BY h.created_at DESC, h.id DESC
		LIMIT ? OFFSET ?`
	out := []models.HistoryEntry{}
	if err := r.q.SelectContext(ctx, &out, r.q.Rebind(query), leadID, limit, offset); err != nil {
		return nil, fmt.Errorf("list history of lead %d: %w", leadID, err)
	}
	return out, nil
}

func (r *historyRepository) CountForLead(ctx context.Context, leadID int64) (int, error) {
	var n int
	if err := r.q.GetContext(ctx, &n, r.q.Rebind(`SELECT COUNT(*) FROM lead_state_history WHERE lead_id = ?`), leadID); err != nil {
		return 0, fmt.Errorf("count history of lead %d: %w", leadID, err)
	}
	return n, nil
}
