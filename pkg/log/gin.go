package log

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// quietPaths are polled by load balancers and only logged at debug level.
var quietPaths = map[string]bool{
	"/health": true,
}

// GinMiddleware returns a Gin middleware that:
//  1. Generates or reads a request ID from X-Request-ID header.
//  2. Creates a child logger with request metadata and injects it into context.
//  3. Sets the X-Request-ID response header.
//  4. Logs the completed request with status, latency, and actor info.
//
// A websocket request completes when its chat session ends, so it is logged
// once when it arrives and again with the session result the handler stored
// under FieldSession.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := logger.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, c.Request.Method).
			Str(FieldPath, c.Request.URL.Path).
			Str(FieldClientIP, c.ClientIP()).
			Logger()

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), child))

		websocket := c.IsWebsocket()
		if websocket {
			child.Debug().Msg("websocket handshake received")
		}

		c.Next()

		// Read actor info set by auth middleware after c.Next().
		var evt *zerolog.Event
		switch {
		case quietPaths[c.FullPath()] && c.Writer.Status() < http.StatusInternalServerError:
			evt = child.Debug()
		case c.Writer.Status() >= http.StatusInternalServerError:
			evt = child.Warn()
		default:
			evt = child.Info()
		}
		evt = evt.Float64(FieldLatency, float64(time.Since(start).Milliseconds()))

		if userID, ok := c.Get(FieldUserID); ok {
			evt = evt.Str(FieldUserID, userID.(string))
		}
		if username, ok := c.Get(FieldUsername); ok {
			evt = evt.Str(FieldUsername, username.(string))
		}

		if result, ok := c.Get(FieldSession); ok {
			evt.Str(FieldSession, result.(string)).Msg("websocket session completed")
			return
		}
		evt.Int(FieldStatus, c.Writer.Status()).Msg("request completed")
	}
}
