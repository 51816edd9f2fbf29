package http

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware injects CORS headers scoped to the configured origin list so
// the admin dashboard can call the API from its own origin. An empty list
// falls back to "*" for local/dev use.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		headers := c.Writer.Header()
		headers.Set("Access-Control-Allow-Origin", resolveOrigin(allowedOrigins, c.GetHeader("Origin")))
		headers.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		headers.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func resolveOrigin(allowed []string, origin string) string {
	if len(allowed) == 0 {
		return "*"
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return origin
		}
	}
	return allowed[0]
}
