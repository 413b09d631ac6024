package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/models"
	"brokercrm/internal/services"
)

type TransitionHandler struct {
	transitions *services.TransitionService
	log         *slog.Logger
}

func NewTransitionHandler(transitions *services.TransitionService, logger *slog.Logger) *TransitionHandler {
	return &TransitionHandler{transitions: transitions, log: logger}
}

// @Summary      Transitions of a desk
// @Tags         Transitions
// @Produce      json
// @Param        desk_id  path  int  true  "Desk ID"
// @Success      200  {array}  models.Transition
// @Security     BearerAuth
// @Router       /desks/{desk_id}/transitions [get]
func (h *TransitionHandler) ListByDesk(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	list, err := h.transitions.List(c.Request.Context(), deskID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Active transitions leaving a state
// @Tags         Transitions
// @Produce      json
// @Param        id  path  int  true  "State ID"
// @Success      200  {array}   models.Transition
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /states/{id}/transitions [get]
func (h *TransitionHandler) ListFromState(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	list, err := h.transitions.ListFrom(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Создать переход
// @Description  Both states must belong to the desk; one transition per (from, to)
// @Tags         Transitions
// @Accept       json
// @Produce      json
// @Param        desk_id     path  int                             true  "Desk ID"
// @Param        transition  body  models.CreateTransitionRequest  true  "Transition"
// @Success      201  {object}  models.Transition
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/transitions [post]
func (h *TransitionHandler) Create(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	var req models.CreateTransitionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.DeskID = deskID
	t, err := h.transitions.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// @Summary      Get transition
// @Tags         Transitions
// @Produce      json
// @Param        id  path  int  true  "Transition ID"
// @Success      200  {object}  models.Transition
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /transitions/{id} [get]
func (h *TransitionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	t, err := h.transitions.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary      Update transition
// @Tags         Transitions
// @Accept       json
// @Produce      json
// @Param        id     path  int                     true  "Transition ID"
// @Param        patch  body  models.TransitionPatch  true  "Fields to change"
// @Success      200  {object}  models.Transition
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /transitions/{id} [put]
func (h *TransitionHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var patch models.TransitionPatch
	if !bindJSON(c, &patch) {
		return
	}
	t, err := h.transitions.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary      Delete transition
// @Tags         Transitions
// @Param        id  path  int  true  "Transition ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /transitions/{id} [delete]
func (h *TransitionHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.transitions.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Toggle transition
// @Tags         Transitions
// @Accept       json
// @Produce      json
// @Param        id      path  int                   true   "Transition ID"
// @Param        toggle  body  models.ToggleRequest  false  "Target value"
// @Success      200  {object}  models.Transition
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /transitions/{id}/toggle [post]
func (h *TransitionHandler) Toggle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req models.ToggleRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	t, err := h.transitions.Toggle(c.Request.Context(), id, req.Active)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
