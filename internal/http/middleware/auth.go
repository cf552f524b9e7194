// README: Bearer token auth middleware and caller accessors.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/types"
)

const (
	callerUIDKey  = "caller_uid"
	callerRoleKey = "caller_role"
)

var (
	errUnauthenticated = apperr.New(apperr.KindAuthorization, "missing or invalid token", "jeton manquant ou invalide")
	errRoleRequired    = apperr.Authorization("role not allowed for this route", "role non autorise pour cette route")
)

// Auth verifies the bearer token and stores the caller identity on the
// context. Websocket upgrades may pass the token as ?token= instead.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			abort(c, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			abort(c, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		c.Set(callerUIDKey, token.UID)
		c.Set(callerRoleKey, string(roleOf(token.Role())))
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

// roleOf maps the role claim; a token without one belongs to a client.
func roleOf(claim string) types.Role {
	switch types.Role(claim) {
	case types.RoleDriver:
		return types.RoleDriver
	case types.RoleAdmin:
		return types.RoleAdmin
	default:
		return types.RoleClient
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(callerUIDKey)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}

// Caller returns the typed identity set by Auth.
func Caller(c *gin.Context) (types.ID, types.Role) {
	return types.ID(CallerUID(c)), types.Role(CallerRole(c))
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role := Caller(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, errRoleRequired)
	}
}

// abort writes the same error body as the handlers.
func abort(c *gin.Context, status int, err *apperr.Error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   err.EN,
		"message": gin.H{"en": err.EN, "fr": err.FR},
	})
}
