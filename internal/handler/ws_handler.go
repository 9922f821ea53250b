package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-match-chat/internal/hub"
	"github.com/weiawesome/wes-match-chat/internal/service"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/middleware"
	"github.com/weiawesome/wes-match-chat/pkg/response"
)

// MsgCapacityExceeded is returned when the process holds MaxConnections users.
const MsgCapacityExceeded = "Connection capacity exceeded, try again later."

// WSHandler serves the chat websocket endpoint.
type WSHandler struct {
	manager        *service.Manager
	acceptor       *hub.Acceptor
	authMiddleware *middleware.AuthMiddleware
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(manager *service.Manager, acceptor *hub.Acceptor, authMiddleware *middleware.AuthMiddleware) *WSHandler {
	return &WSHandler{
		manager:        manager,
		acceptor:       acceptor,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/ws", h.authMiddleware.RequireAuth(), h.HandleWebSocket)
}

// HandleWebSocket runs one chat session for the authenticated caller. The
// request blocks until the session ends.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, middleware.MsgTokenInvalid)
		return
	}

	upgrade := func() (service.Conn, error) {
		client, err := h.acceptor.Accept(c.Writer, c.Request, userID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	result, err := h.manager.Run(ctx, userID, middleware.GetExpiresAt(c), upgrade)
	if result != service.ResultRejected {
		c.Set(log.FieldSession, result)
	}
	l = l.With().Str(log.FieldUsername, middleware.GetUsername(c)).Logger()
	switch {
	case errors.Is(err, service.ErrCapacityExceeded):
		l.Warn().Int("connections", h.manager.Count()).Msg("rejecting connection at capacity")
		response.ServiceUnavailable(c, MsgCapacityExceeded)
	case err != nil && result == service.ResultRejected:
		// the upgrader has already written an error response
		l.Warn().Err(err).Msg("websocket handshake failed")
	case err != nil:
		l.Error().Err(err).Str("result", result).Msg("chat session failed")
	default:
		l.Info().Str("result", result).Msg("chat session ended")
	}
}

// Health reports liveness and the number of local connections.
func (h *WSHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.manager.Count(),
	})
}
