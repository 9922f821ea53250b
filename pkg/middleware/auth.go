package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/weiawesome/wes-match-chat/pkg/jwt"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	ExpiresAtKey  = "expires_at"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// Rejection messages, shared with websocket clients.
const (
	MsgTokenMissing = "Access token not provided."
	MsgTokenInvalid = "Invalid authentication credentials."
	MsgTokenExpired = "Expired token."
)

// AuthMiddleware validates access tokens issued by the auth service.
type AuthMiddleware struct {
	tokens *jwt.Manager
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth returns a Gin middleware that validates JWT tokens. Browsers
// cannot set headers on a websocket handshake, so the token may also be passed
// as the "token" query parameter.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, MsgTokenMissing)
			c.Abort()
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("rejected access token")
			if errors.Is(err, jwt.ErrExpiredToken) {
				response.Unauthorized(c, MsgTokenExpired)
			} else {
				response.Unauthorized(c, MsgTokenInvalid)
			}
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.Identity())
		if err != nil {
			response.Unauthorized(c, MsgTokenInvalid)
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID.String())
		c.Set(UsernameKey, claims.Username)
		c.Set(ExpiresAtKey, claims.Expiry())

		ctx := log.WithUserID(c.Request.Context(), userID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if token := c.Query(TokenQueryKey); token != "" {
		return token
	}
	authHeader := c.GetHeader(AuthHeaderKey)
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return ""
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(UsernameKey); exists {
		return username.(string)
	}
	return ""
}

// GetExpiresAt returns the absolute expiry of the caller's token. The zero
// time means the token never expires.
func GetExpiresAt(c *gin.Context) time.Time {
	if exp, exists := c.Get(ExpiresAtKey); exists {
		return exp.(time.Time)
	}
	return time.Time{}
}
