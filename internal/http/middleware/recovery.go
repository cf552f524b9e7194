// README: Panic recovery middleware.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"fretlink/internal/apperr"
)

var errInternal = apperr.New(apperr.KindInternal, "internal error", "erreur interne")

func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered",
					"route", routeOf(c),
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				abort(c, http.StatusInternalServerError, errInternal)
			}
		}()
		c.Next()
	}
}
