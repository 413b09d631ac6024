package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/models"
	"brokercrm/internal/services"
)

type AuthHandler struct {
	users *services.UserService
	log   *slog.Logger
}

func NewAuthHandler(users *services.UserService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, log: logger}
}

// @Summary      Вход в систему
// @Description  Checks the password and returns an access token
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Данные для входа"
// @Success      200    {object}  models.LoginResponse
// @Failure      400    {object}  ErrorResponse
// @Failure      401    {object}  ErrorResponse
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.users.Login(c.Request.Context(), req)
	if errors.Is(err, services.ErrInvalidCredentials) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid email or password", Kind: "unauthorized"})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
