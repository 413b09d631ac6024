package services

import (
	"context"
	"log/slog"

	"brokercrm/internal/apperr"
	"brokercrm/internal/export"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryService reads the append-only state history of leads.
type HistoryService struct {
	store repositories.Store
	pdf   *export.PDFRenderer
	log   *slog.Logger
	now   clock
}

func NewHistoryService(store repositories.Store, pdf *export.PDFRenderer, logger *slog.Logger) *HistoryService {
	if logger == nil {
		logger = slog.Default()
	}
	if pdf == nil {
		pdf = export.NewPDFRenderer("")
	}
	return &HistoryService{store: store, pdf: pdf, log: logger, now: utcNow}
}

// Append records one state change. LeadStateService writes its rows inside
// its own transaction; this entry point serves imports and backfills.
func (s *HistoryService) Append(ctx context.Context, leadID int64, fromStateID *int64, toStateID, userID int64, comment *string) (int64, error) {
	if _, err := s.store.Leads().GetByID(ctx, leadID); err != nil {
		return 0, notFound(err, "get lead", "lead %d not found", leadID)
	}
	if _, err := s.store.States().GetByID(ctx, toStateID); err != nil {
		return 0, notFoundAsValidation(err, "to_state_id %d does not exist", toStateID)
	}
	if fromStateID != nil {
		if _, err := s.store.States().GetByID(ctx, *fromStateID); err != nil {
			return 0, notFoundAsValidation(err, "from_state_id %d does not exist", *fromStateID)
		}
	}
	e := &models.HistoryEntry{
		LeadID:      leadID,
		FromStateID: fromStateID,
		ToStateID:   toStateID,
		UserID:      userID,
		Comment:     normalizeComment(comment),
		CreatedAt:   s.now(),
	}
	id, err := s.store.History().Append(ctx, e)
	if err != nil {
		return 0, apperr.Internal("append history", err)
	}
	return id, nil
}

// List returns one page of the lead's history, newest first. limit 0 means
// the default page size; larger values are capped.
func (s *HistoryService) List(ctx context.Context, leadID int64, limit, offset int) (*models.HistoryPage, error) {
	if limit < 0 || offset < 0 {
		return nil, apperr.Validation("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if _, err := s.store.Leads().GetByID(ctx, leadID); err != nil {
		return nil, notFound(err, "get lead", "lead %d not found", leadID)
	}
	total, err := s.store.History().CountForLead(ctx, leadID)
	if err != nil {
		return nil, apperr.Internal("count history", err)
	}
	entries, err := s.store.History().ListForLead(ctx, leadID, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list history", err)
	}
	return &models.HistoryPage{LeadID: leadID, Total: total, Limit: limit, Offset: offset, Entries: entries}, nil
}

func (s *HistoryService) report(ctx context.Context, leadID int64) (export.HistoryReport, error) {
	lead, err := s.store.Leads().GetByID(ctx, leadID)
	if err != nil {
		return export.HistoryReport{}, notFound(err, "get lead", "lead %d not found", leadID)
	}
	total, err := s.store.History().CountForLead(ctx, leadID)
	if err != nil {
		return export.HistoryReport{}, apperr.Internal("count history", err)
	}
	entries, err := s.store.History().ListForLead(ctx, leadID, total, 0)
	if err != nil {
		return export.HistoryReport{}, apperr.Internal("list history", err)
	}
	return export.HistoryReport{LeadID: lead.ID, LeadTitle: lead.Title, Entries: entries, GeneratedAt: s.now()}, nil
}

// ExportPDF renders the complete history of a lead.
func (s *HistoryService) ExportPDF(ctx context.Context, leadID int64) ([]byte, error) {
	r, err := s.report(ctx, leadID)
	if err != nil {
		return nil, err
	}
	out, err := s.pdf.Render(r)
	if err != nil {
		return nil, apperr.Internal("render pdf", err)
	}
	s.log.Info("history exported", "lead_id", leadID, "format", "pdf", "entries", len(r.Entries))
	return out, nil
}

func (s *HistoryService) ExportXLSX(ctx context.Context, leadID int64) ([]byte, error) {
	r, err := s.report(ctx, leadID)
	if err != nil {
		return nil, err
	}
	out, err := export.RenderXLSX(r)
	if err != nil {
		return nil, apperr.Internal("render xlsx", err)
	}
	s.log.Info("history exported", "lead_id", leadID, "format", "xlsx", "entries", len(r.Entries))
	return out, nil
}
