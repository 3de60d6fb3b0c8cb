package handler

import (
	"errors"

	"github.com/artdiffusion/a1111-bot/internal/model"
	"github.com/artdiffusion/a1111-bot/internal/replay"
	"github.com/gin-gonic/gin"
)

// ExecuteAction runs a replay token against the resolver. An interaction
// whose parameters cannot be reconstructed is gone, not malformed.
func (h *Handler) ExecuteAction(c *gin.Context) {
	var req model.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, model.ErrorResponse{Message: err.Error()})
		return
	}
	err := h.resolver.Handle(c.Request.Context(), req.Token, req.UserID, req.ChatID, req.Caption)
	switch {
	case err == nil:
		c.JSON(200, gin.H{"status": "accepted"})
	case errors.Is(err, replay.ErrExpired):
		c.JSON(410, model.ErrorResponse{Message: "expirado"})
	case errors.Is(err, replay.ErrUnknownAction):
		c.JSON(400, model.ErrorResponse{Message: err.Error()})
	default:
		c.JSON(502, model.ErrorResponse{Message: err.Error()})
	}
}
