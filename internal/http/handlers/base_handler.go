// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fretlink/internal/apperr"
	"fretlink/internal/http/middleware"
	"fretlink/internal/modules/order"
	"fretlink/internal/types"
)

type errorMessage struct {
	EN string `json:"en"`
	FR string `json:"fr"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Message errorMessage `json:"message"`
}

var (
	errInvalidBody = apperr.Validation("invalid request body", "corps de requete invalide")
	errMissingID   = apperr.Validation("missing id", "identifiant manquant")
)

// isValidID accepts the uuid ids this service issues and similar opaque ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDurable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		_ = c.Error(err)
	}
	en, fr := apperr.Messages(err)
	writeJSON(c, statusOf(err), errorResponse{Error: en, Message: errorMessage{EN: en, FR: fr}})
}

// pathID reads and validates the :id route parameter.
func pathID(c *gin.Context) (types.ID, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if !isValidID(id) {
		writeError(c, errMissingID)
		return "", false
	}
	return types.ID(id), true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, errInvalidBody)
		return false
	}
	return true
}

func actorOf(c *gin.Context) order.Actor {
	id, role := middleware.Caller(c)
	return order.Actor{ID: id, Role: role}
}

// isMultipart reports whether the request carries a multipart form.
func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}
