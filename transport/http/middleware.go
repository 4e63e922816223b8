package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

// SurfaceKey is the gin context key holding the authenticated surface name.
const SurfaceKey = "surface"

// SurfaceAuth creates middleware that admits only approval surfaces holding
// a valid surface token
func SurfaceAuth(verifier ports.SurfaceTokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		subject, err := verifier.VerifySurfaceToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(SurfaceKey, subject)

		c.Next()
	}
}

// RequestLogger logs every request once it has been served.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("origin", c.GetHeader("Origin")).
			Msg("request")
	}
}
