// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fretlink/internal/http/handlers"
	"fretlink/internal/http/middleware"
	"fretlink/internal/infra"
	"fretlink/internal/modules/location"
	"fretlink/internal/realtime"
	"fretlink/internal/types"
)

type RouterDeps struct {
	Verifier infra.TokenVerifier
	Orders   handlers.OrderService
	Payments handlers.PaymentService
	Registry *location.Registry
	Hub      *realtime.Hub
	Realtime realtime.Handler
	Log      *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(d.Verifier)
	client := middleware.RequireRole(types.RoleClient)
	driver := middleware.RequireRole(types.RoleDriver)
	admin := middleware.RequireRole(types.RoleAdmin)
	driverOrAdmin := middleware.RequireRole(types.RoleDriver, types.RoleAdmin)

	ws := handlers.NewWSHandler(d.Hub, d.Realtime, d.Log)
	r.GET("/ws", auth, ws.Serve)

	api := r.Group("/api", auth)

	orderHandler := handlers.NewOrderHandler(d.Orders)
	api.POST("/orders", client, orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/accept", driver, orderHandler.Accept)
	api.POST("/orders/:id/refuse", driver, orderHandler.Refuse)
	api.POST("/orders/:id/status", driverOrAdmin, orderHandler.UpdateStatus)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.POST("/orders/:id/dispute", middleware.RequireRole(types.RoleClient, types.RoleDriver), orderHandler.Dispute)
	api.POST("/orders/:id/tracking", driver, orderHandler.Track)
	api.POST("/orders/:id/photos", driver, orderHandler.Photo)
	api.POST("/orders/:id/rating", client, orderHandler.Rate)

	paymentHandler := handlers.NewPaymentHandler(d.Payments)
	api.POST("/orders/:id/payment/proof", client, paymentHandler.SubmitProof)
	api.POST("/orders/:id/payment/confirm", admin, paymentHandler.Confirm)
	api.POST("/orders/:id/payment/payout", admin, paymentHandler.Payout)
	api.POST("/orders/:id/payment/refund", admin, paymentHandler.Refund)
	api.POST("/wallet/recharges", driver, paymentHandler.SubmitRecharge)
	api.POST("/wallet/recharges/:id/confirm", admin, paymentHandler.ConfirmRecharge)
	api.POST("/wallet/recharges/:id/reject", admin, paymentHandler.RejectRecharge)

	driverHandler := handlers.NewDriverHandler(d.Registry)
	api.GET("/drivers/nearby", driverHandler.Nearby)

	return r
}
