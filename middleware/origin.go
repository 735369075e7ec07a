package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin validation: modify according to your own domain/Token logic.
func Origin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/ws" {
			// Credential validation happens in the gateway handshake; nothing
			// to do here beyond origin policy hooks.
		}
		c.Next()
	}
}

// CheckOrigin builds the websocket upgrader origin policy. An empty allowlist
// accepts any origin; otherwise the Origin host must match one of the entries.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(u.Host, a) || a == "*" {
				return true
			}
		}
		return false
	}
}
