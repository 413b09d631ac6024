package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/middleware"
	"brokercrm/internal/services"
)

type WorkflowHandler struct {
	workflows *services.WorkflowService
	log       *slog.Logger
}

func NewWorkflowHandler(workflows *services.WorkflowService, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, log: logger}
}

// @Summary      Default workflow
// @Description  Creates the standard lead states and transitions in a desk that has none
// @Tags         States
// @Produce      json
// @Param        desk_id  path  int  true  "Desk ID"
// @Success      201  {array}   models.DeskState
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/workflow/default [post]
func (h *WorkflowHandler) BootstrapDefault(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	states, err := h.workflows.Bootstrap(c.Request.Context(), deskID, middleware.UserID(c), services.DefaultLeadWorkflow)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, states)
}
