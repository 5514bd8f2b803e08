package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type chatHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

// RealtimeHandler upgrades authenticated requests onto the chat hub.
type RealtimeHandler struct {
	hub    chatHub
	logger *zap.Logger
}

// NewRealtimeHandler builds the handler.
func NewRealtimeHandler(hub chatHub, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{hub: hub, logger: logger}
}

// Connect godoc
// @Summary Chat websocket
// @Description Pass the token as a Bearer header or the access_token query parameter
// @Tags Realtime
// @Param access_token query string false "JWT access token"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /hubs/chat [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	// the upgrader has already replied when it fails
	if err := h.hub.ServeWS(c.Writer, c.Request, claims.UserID); err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}
