package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/middleware"
	"brokercrm/internal/models"
	"brokercrm/internal/services"
)

type StateHandler struct {
	states *services.StateService
	log    *slog.Logger
}

func NewStateHandler(states *services.StateService, logger *slog.Logger) *StateHandler {
	return &StateHandler{states: states, log: logger}
}

type listStatesQuery struct {
	ActiveOnly bool `form:"active_only"`
}

// @Summary      Статусы деска
// @Description  Lists the states of a desk ordered by sort_order, then display name
// @Tags         States
// @Produce      json
// @Param        desk_id      path   int   true   "Desk ID"
// @Param        active_only  query  bool  false  "Only active states"
// @Success      200  {array}   models.DeskState
// @Failure      400  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/states [get]
func (h *StateHandler) ListByDesk(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	var q listStatesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid active_only")
		return
	}
	list, err := h.states.List(c.Request.Context(), deskID, q.ActiveOnly)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Создать статус
// @Tags         States
// @Accept       json
// @Produce      json
// @Param        desk_id  path  int                        true  "Desk ID"
// @Param        state    body  models.CreateStateRequest  true  "State"
// @Success      201  {object}  models.DeskState
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/states [post]
func (h *StateHandler) Create(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	var req models.CreateStateRequest
	if !bindJSON(c, &req) {
		return
	}
	req.DeskID = deskID
	st, err := h.states.Create(c.Request.Context(), req, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// @Summary      Initial state of a desk
// @Tags         States
// @Produce      json
// @Param        desk_id  path  int  true  "Desk ID"
// @Success      200  {object}  models.DeskState
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/states/initial [get]
func (h *StateHandler) Initial(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	st, err := h.states.Initial(c.Request.Context(), deskID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "desk has no active initial state", Kind: "not_found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Reorder states
// @Description  Listed states get sort_order 1..N in the given order
// @Tags         States
// @Accept       json
// @Param        desk_id  path  int                    true  "Desk ID"
// @Param        order    body  models.ReorderRequest  true  "State ids"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /desks/{desk_id}/states/order [put]
func (h *StateHandler) Reorder(c *gin.Context) {
	deskID, ok := parseID(c, "desk_id")
	if !ok {
		return
	}
	var req models.ReorderRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.states.Reorder(c.Request.Context(), deskID, req.StateIDs); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Get state
// @Tags         States
// @Produce      json
// @Param        id  path  int  true  "State ID"
// @Success      200  {object}  models.DeskState
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /states/{id} [get]
func (h *StateHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	st, err := h.states.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Update state
// @Description  Only the fields present in the body change
// @Tags         States
// @Accept       json
// @Produce      json
// @Param        id     path  int                true  "State ID"
// @Param        patch  body  models.StatePatch  true  "Fields to change"
// @Success      200  {object}  models.DeskState
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /states/{id} [put]
func (h *StateHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var patch models.StatePatch
	if !bindJSON(c, &patch) {
		return
	}
	st, err := h.states.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Удалить статус
// @Description  Fails with 409 while any lead is in the state; removes its transitions
// @Tags         States
// @Param        id  path  int  true  "State ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /states/{id} [delete]
func (h *StateHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.states.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Toggle state
// @Description  Sets is_active to "active", or flips it when the body is empty
// @Tags         States
// @Accept       json
// @Produce      json
// @Param        id      path  int                   true   "State ID"
// @Param        toggle  body  models.ToggleRequest  false  "Target value"
// @Success      200  {object}  models.DeskState
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /states/{id}/toggle [post]
func (h *StateHandler) Toggle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req models.ToggleRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	st, err := h.states.Toggle(c.Request.Context(), id, req.Active)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
