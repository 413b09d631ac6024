package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/middleware"
	"brokercrm/internal/models"
	"brokercrm/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LeadStateHandler serves everything about the state of a single lead:
// the moves it can make, applying one, and its history.
type LeadStateHandler struct {
	leads   *services.LeadStateService
	history *services.HistoryService
	log     *slog.Logger
}

func NewLeadStateHandler(leads *services.LeadStateService, history *services.HistoryService, logger *slog.Logger) *LeadStateHandler {
	return &LeadStateHandler{leads: leads, history: history, log: logger}
}

// @Summary      Создать лид
// @Description  Creates a lead at the desk's initial state
// @Tags         Leads
// @Accept       json
// @Produce      json
// @Param        desk_id  path  int                       true  "Desk ID"
// @Param        lead     body  models.CreateLeadRequest  true  "Lead"
// @Success      201  {object}  models.Lead
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/leads [post]
func (h *LeadStateHandler) CreateLead(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	var req models.CreateLeadRequest
	if !bindJSON(c, &req) {
		return
	}
	req.DeskID = deskID
	// владелец всегда из токена
	lead, err := h.leads.CreateLead(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

// @Summary      Available transitions
// @Description  Current state of the lead and the active moves out of it
// @Tags         Leads
// @Produce      json
// @Param        id  path  int  true  "Lead ID"
// @Success      200  {object}  models.AvailableTransitions
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/transitions [get]
func (h *LeadStateHandler) AvailableTransitions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	out, err := h.leads.AvailableTransitions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary      Сменить статус лида
// @Description  Applies a configured transition; the lead update and its history row commit together
// @Tags         Leads
// @Accept       json
// @Produce      json
// @Param        id    path  int                            true  "Lead ID"
// @Param        move  body  models.ApplyTransitionRequest  true  "Target state"
// @Success      200  {object}  models.TransitionResult
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/state [post]
func (h *LeadStateHandler) ApplyTransition(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req models.ApplyTransitionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.LeadID = id
	req.UserID = middleware.UserID(c)
	res, err := h.leads.ApplyTransition(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Assign initial state
// @Description  Places a lead that has no state at its desk's initial state
// @Tags         Leads
// @Produce      json
// @Param        id  path  int  true  "Lead ID"
// @Success      200  {object}  models.TransitionResult
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/state/initial [post]
func (h *LeadStateHandler) AssignInitialState(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.leads.AssignInitialState(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type historyQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// @Summary      История статусов
// @Description  Newest first; limit defaults to 50 and is capped at 500
// @Tags         History
// @Produce      json
// @Param        id      path   int  true   "Lead ID"
// @Param        limit   query  int  false  "Page size"
// @Param        offset  query  int  false  "Offset"
// @Success      200  {object}  models.HistoryPage
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/history [get]
func (h *LeadStateHandler) History(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "limit and offset must be integers")
		return
	}
	page, err := h.history.List(c.Request.Context(), id, q.Limit, q.Offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// @Summary      History as PDF
// @Tags         History
// @Produce      application/pdf
// @Param        id  path  int  true  "Lead ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/history/pdf [get]
func (h *LeadStateHandler) HistoryPDF(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	out, err := h.history.ExportPDF(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="lead-%d-history.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", out)
}

// @Summary      History as XLSX
// @Tags         History
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        id  path  int  true  "Lead ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /leads/{id}/history/xlsx [get]
func (h *LeadStateHandler) HistoryXLSX(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	out, err := h.history.ExportXLSX(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="lead-%d-history.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, out)
}
