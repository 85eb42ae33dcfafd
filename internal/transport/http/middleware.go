package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"classroom-qa/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeySession = "session"

// Authenticator resolves bearer tokens into sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Session, error)
}

// RequireSession rejects requests without a valid bearer token and stores
// the resolved session for handlers.
func RequireSession(auth Authenticator) gin.HandlerFunc {
	return requireSession(auth, false)
}

// RequireSocketSession is RequireSession for the websocket upgrade, which
// also accepts the token query parameter since browsers cannot set headers
// on a handshake.
func RequireSocketSession(auth Authenticator) gin.HandlerFunc {
	return requireSession(auth, true)
}

func requireSession(auth Authenticator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request, allowQuery)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		s, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, domain.ErrTransient) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(contextKeySession, s)
		c.Next()
	}
}

// bearerToken reads "Authorization: Bearer <token>". With allowQuery it
// falls back to the token query parameter.
func bearerToken(r *http.Request, allowQuery bool) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if !allowQuery {
		return ""
	}
	return r.URL.Query().Get("token")
}

func sessionFrom(c *gin.Context) domain.Session {
	val, ok := c.Get(contextKeySession)
	if !ok {
		return domain.Session{}
	}
	s, _ := val.(domain.Session)
	return s
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
