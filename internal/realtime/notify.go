// README: Targeted delivery of order lifecycle and payment events to the parties of an order.
package realtime

import (
	"context"
	"fmt"

	"fretlink/internal/logging"
	"fretlink/internal/metrics"
	"fretlink/internal/modules/order"
	"fretlink/internal/modules/payment"
	"fretlink/internal/types"
)

var (
	_ order.Notifier   = (*Router)(nil)
	_ payment.Notifier = (*Router)(nil)
)

// StatusChanged mirrors the new status into the session table and sends
// order.<id>.status to the client and the assigned driver.
func (r *Router) StatusChanged(ctx context.Context, o order.Order, from order.Status) {
	closed := order.IsTerminal(o.Status)
	if !closed {
		r.sessions.Bind(o.ID, o.ClientID, activeDriver(&o), string(o.Status))
	}
	sess, _ := r.sessions.SetStatus(o.ID, string(o.Status), closed)

	event := StatusEventName(o.ID)
	frame, err := Encode(event, StatusUpdate{OrderID: o.ID, Status: string(o.Status), From: string(from)})
	if err != nil {
		r.log.Error("encode status event failed", "order_id", o.ID, logging.Err(err))
		return
	}
	r.deliver(ctx, event, sess.ClientConn, o.ClientID, frame)
	if o.DriverID != nil {
		r.deliver(ctx, event, sess.DriverConn, *o.DriverID, frame)
	}
}

// PaymentChanged sends order.<id>.payment to both parties.
func (r *Router) PaymentChanged(ctx context.Context, rec payment.Record) {
	sess, _ := r.sessions.Get(rec.OrderID)
	event := PaymentEventName(rec.OrderID)
	frame, err := Encode(event, StatusUpdate{OrderID: rec.OrderID, Status: string(rec.Status)})
	if err != nil {
		r.log.Error("encode payment event failed", "order_id", rec.OrderID, logging.Err(err))
		return
	}
	r.deliver(ctx, event, sess.ClientConn, rec.ClientID, frame)
	if rec.DriverID != nil {
		r.deliver(ctx, event, sess.DriverConn, *rec.DriverID, frame)
	}
}

// OrderCreated offers a new order to its driver over the driver's live
// connection, falling back to a push notification. Best effort.
func (r *Router) OrderCreated(ctx context.Context, o order.Order) {
	if o.DriverID == nil {
		return
	}
	driverID := *o.DriverID
	data := NewOrder{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Pickup:      o.Pickup,
		Cargo:       o.Cargo,
		Amount:      o.Price,
		DriverShare: o.DriverShare,
	}
	if h, ok := r.registry.HandleOf(driverID); ok && r.emit(h, EventOrderNew, data) {
		metrics.OutboundDeliveriesTotal.WithLabelValues(EventOrderNew, "live").Inc()
		return
	}
	if r.push(ctx, driverID, o) {
		metrics.OutboundDeliveriesTotal.WithLabelValues(EventOrderNew, "push").Inc()
		return
	}
	metrics.OutboundDeliveriesTotal.WithLabelValues(EventOrderNew, "dropped").Inc()
	r.log.Debug("order offer dropped, driver unreachable", "order_id", o.ID, "driver_id", driverID)
}

func (r *Router) push(ctx context.Context, driverID types.ID, o order.Order) bool {
	if r.pusher == nil || r.users == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	token, err := r.users.DeviceToken(ctx, driverID)
	if err != nil {
		r.log.Warn("device token lookup failed", "driver_id", driverID, logging.Err(err))
		return false
	}
	if token == "" {
		return false
	}
	body := fmt.Sprintf("%s: %s (%d %s)", o.Number, o.Pickup.Address, o.DriverShare.Amount, o.DriverShare.Currency)
	err = r.pusher.Push(ctx, token, "Nouvelle commande", body, map[string]string{
		"event":       EventOrderNew,
		"orderId":     string(o.ID),
		"orderNumber": o.Number,
	})
	if err != nil {
		r.log.Warn("order push failed", "driver_id", driverID, "order_id", o.ID, logging.Err(err))
		return false
	}
	return true
}
