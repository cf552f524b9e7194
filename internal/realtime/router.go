// README: Event router: applies inbound realtime events to the registry and session table and decides fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/logging"
	"fretlink/internal/metrics"
	"fretlink/internal/modules/location"
	"fretlink/internal/modules/order"
	"fretlink/internal/modules/session"
	"fretlink/internal/types"
)

var (
	errBadFrame     = apperr.Validation("malformed event", "evenement mal forme")
	errUnknownEvent = apperr.Validation("unknown event", "evenement inconnu")
	errMissingOrder = apperr.Validation("orderId is required", "orderId est obligatoire")
	errCoordinates  = apperr.Validation("coordinates out of range", "coordonnees hors limites")
	errIdentity     = apperr.Authorization("event identity does not match the connection", "l'identite de l'evenement ne correspond pas a la connexion")
	errRole         = apperr.Authorization("event not allowed for this role", "evenement non autorise pour ce role")
	errOrderClosed  = apperr.Conflict("order is closed", "la commande est terminee")
)

// Delivery is the outbound side of the hub.
type Delivery interface {
	Send(conn types.ConnID, frame []byte) bool
	Broadcast(frame []byte, except types.ConnID) int
	ConnsOf(userID types.ID) []types.ConnID
}

// Users is the slice of the user store the router writes to.
type Users interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	DeviceToken(ctx context.Context, id types.ID) (string, error)
}

// Orders is the slice of the order lifecycle the router calls into.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	AddTrackingPoint(ctx context.Context, cmd order.TrackCommand) (order.TrackingPoint, error)
	AppendMessage(ctx context.Context, cmd order.MessageCommand) (order.Message, error)
}

type Deps struct {
	Registry *location.Registry
	Sessions *session.Table
	Hub      Delivery
	Users    Users
	Orders   Orders
	Outbox   Outbox
	Pusher   infra.Pusher
	// SampleRate is the probability that a location report is also written
	// to the user record.
	SampleRate     float64
	DurableTimeout time.Duration
	Rand           func() float64
	Log            *slog.Logger
}

type Router struct {
	registry   *location.Registry
	sessions   *session.Table
	hub        Delivery
	users      Users
	orders     Orders
	outbox     Outbox
	pusher     infra.Pusher
	sampleRate float64
	timeout    time.Duration
	rand       func() float64
	now        func() time.Time
	log        *slog.Logger
}

func NewRouter(d Deps) *Router {
	r := &Router{
		registry:   d.Registry,
		sessions:   d.Sessions,
		hub:        d.Hub,
		users:      d.Users,
		orders:     d.Orders,
		outbox:     d.Outbox,
		pusher:     d.Pusher,
		sampleRate: d.SampleRate,
		timeout:    d.DurableTimeout,
		rand:       d.Rand,
		now:        time.Now,
		log:        d.Log,
	}
	if r.outbox == nil {
		r.outbox = NopOutbox{}
	}
	if r.rand == nil {
		r.rand = rand.Float64
	}
	if r.timeout <= 0 {
		r.timeout = 3 * time.Second
	}
	if r.log == nil {
		r.log = logging.Nop()
	}
	return r
}

// Connected flushes events queued while the user was offline.
func (r *Router) Connected(ctx context.Context, p Peer) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	frames, err := r.outbox.Drain(ctx, p.UserID)
	if err != nil {
		r.log.Warn("outbox drain failed", "user_id", p.UserID, logging.Err(err))
		return
	}
	for i, f := range frames {
		if !r.hub.Send(p.ID, f) {
			if err := r.outbox.Push(ctx, p.UserID, frames[i:]...); err != nil {
				r.log.Warn("outbox requeue failed", "user_id", p.UserID, logging.Err(err))
			}
			return
		}
	}
	if len(frames) > 0 {
		r.log.Debug("outbox flushed", "user_id", p.UserID, "count", len(frames))
	}
}

// Handle processes one inbound frame. Failures are reported to the sender as
// an error event and never undo in-memory updates already applied.
func (r *Router) Handle(ctx context.Context, p Peer, frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		metrics.RealtimeEventsTotal.WithLabelValues("invalid", "rejected").Inc()
		r.fail(p, "", errBadFrame)
		return
	}

	label := env.Event
	switch env.Event {
	case EventDriverLocation:
		err = r.onLocation(ctx, p, env.Data)
	case EventOrderTrack:
		err = r.onTrack(ctx, p, env.Data)
	case EventDriverAccept:
		err = r.onAccept(ctx, p, env.Data)
	case EventChatMessage:
		err = r.onChat(ctx, p, env.Data)
	case EventPing:
		r.emit(p.ID, EventPong, map[string]any{"at": r.now()})
	default:
		label = "unknown"
		err = errUnknownEvent
	}

	if err != nil {
		metrics.RealtimeEventsTotal.WithLabelValues(label, "rejected").Inc()
		r.fail(p, env.Event, err)
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(label, "ok").Inc()
}

// Disconnected flips the peer's driver entries offline, tells observers and
// clears the handle from every session.
func (r *Router) Disconnected(_ context.Context, p Peer) {
	for _, pos := range r.registry.MarkOffline(p.ID) {
		r.broadcast(EventDriversUpdate, driverUpdate(pos), p.ID)
	}
	if n := r.sessions.DetachHandle(p.ID); n > 0 {
		r.log.Debug("detached handle from sessions", "conn_id", p.ID, "sessions", n)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errBadFrame
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadFrame
	}
	return nil
}

func (r *Router) onLocation(ctx context.Context, p Peer, raw json.RawMessage) error {
	if p.Role != types.RoleDriver {
		return errRole
	}
	var rep LocationReport
	if err := decodeData(raw, &rep); err != nil {
		return err
	}
	if rep.DriverID != "" && rep.DriverID != p.UserID {
		return errIdentity
	}
	if rep.Lat < -90 || rep.Lat > 90 || rep.Lon < -180 || rep.Lon > 180 {
		return errCoordinates
	}
	online := true
	if rep.IsOnline != nil {
		online = *rep.IsOnline
	}
	pos := location.Position{
		DriverID:  p.UserID,
		Point:     types.Point{Lat: rep.Lat, Lng: rep.Lon},
		Heading:   rep.Heading,
		Speed:     rep.Speed,
		Battery:   rep.Battery,
		Online:    online,
		Handle:    p.ID,
		UpdatedAt: r.now(),
	}
	r.registry.Report(pos)
	metrics.LocationReportsTotal.Inc()

	r.broadcast(EventDriversUpdate, driverUpdate(pos), p.ID)

	sess, active := r.sessions.ForDriver(p.UserID)
	if active {
		if h, ok := sess.Handle(session.RoleClient); ok {
			r.emit(h, EventDriverPosition, DriverPosition{
				OrderID: sess.OrderID,
				Lat:     pos.Point.Lat,
				Lon:     pos.Point.Lng,
				Speed:   pos.Speed,
				Heading: pos.Heading,
			})
		}
	}

	if r.rand() < r.sampleRate {
		r.sampleWrite(ctx, pos, sess, active)
	} else {
		metrics.SampledWritesTotal.WithLabelValues("skipped").Inc()
	}
	return nil
}

// sampleWrite persists a sampled report. It is optional: failures are logged
// and counted, the registry keeps the new entry.
func (r *Router) sampleWrite(ctx context.Context, pos location.Position, sess session.Session, active bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	outcome := "ok"
	if err := r.users.UpdateLocation(ctx, pos.DriverID, pos.Point, pos.UpdatedAt); err != nil {
		outcome = "failed"
		r.log.Warn("sampled location write failed", "driver_id", pos.DriverID, logging.Err(err))
	}
	if active && sess.Status == string(order.StatusInTransit) {
		_, err := r.orders.AddTrackingPoint(ctx, order.TrackCommand{
			OrderID:  sess.OrderID,
			DriverID: pos.DriverID,
			Point:    pos.Point,
		})
		if err != nil {
			outcome = "failed"
			r.log.Warn("tracking point write failed", "driver_id", pos.DriverID, "order_id", sess.OrderID, logging.Err(err))
		}
	}
	metrics.SampledWritesTotal.WithLabelValues(outcome).Inc()
}

func (r *Router) lookup(ctx context.Context, id types.ID) (*order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.orders.Get(ctx, id)
}

func (r *Router) onTrack(ctx context.Context, p Peer, raw json.RawMessage) error {
	if p.Role != types.RoleClient {
		return errRole
	}
	var req TrackRequest
	if err := decodeData(raw, &req); err != nil {
		return err
	}
	if req.OrderID == "" {
		return errMissingOrder
	}
	if req.ClientID != "" && req.ClientID != p.UserID {
		return errIdentity
	}
	o, err := r.lookup(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if o.ClientID != p.UserID {
		return order.ErrForbidden
	}
	if order.IsTerminal(o.Status) {
		return errOrderClosed
	}

	r.sessions.Bind(o.ID, o.ClientID, activeDriver(o), string(o.Status))
	r.sessions.AttachClient(o.ID, p.UserID, p.ID)
	r.emit(p.ID, StatusEventName(o.ID), StatusUpdate{OrderID: o.ID, Status: string(o.Status)})
	return nil
}

func (r *Router) onAccept(ctx context.Context, p Peer, raw json.RawMessage) error {
	if p.Role != types.RoleDriver {
		return errRole
	}
	var req AcceptRequest
	if err := decodeData(raw, &req); err != nil {
		return err
	}
	if req.OrderID == "" {
		return errMissingOrder
	}
	if req.DriverID != "" && req.DriverID != p.UserID {
		return errIdentity
	}
	o, err := r.lookup(ctx, req.OrderID)
	if err != nil {
		return err
	}
	// an unassigned order is claimed over HTTP first
	if !o.IsAssigned(p.UserID) {
		return order.ErrForbidden
	}
	if order.IsTerminal(o.Status) {
		return errOrderClosed
	}

	// seed the durable status so a driver re-binding mid-trip stays in_transit
	r.sessions.Bind(o.ID, o.ClientID, "", string(o.Status))
	r.sessions.AttachDriver(o.ID, p.UserID, p.ID)
	return nil
}

func (r *Router) onChat(ctx context.Context, p Peer, raw json.RawMessage) error {
	var req ChatRequest
	if err := decodeData(raw, &req); err != nil {
		return err
	}
	if req.OrderID == "" {
		return errMissingOrder
	}
	if (req.SenderID != "" && req.SenderID != p.UserID) || (req.SenderType != "" && req.SenderType != p.Role) {
		return errIdentity
	}
	var role session.Role
	switch p.Role {
	case types.RoleDriver:
		role = session.RoleDriver
	case types.RoleClient:
		role = session.RoleClient
	default:
		return errRole
	}

	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	msg, err := r.orders.AppendMessage(wctx, order.MessageCommand{
		OrderID:    req.OrderID,
		SenderID:   p.UserID,
		SenderRole: p.Role,
		Body:       req.Message,
		Type:       req.Type,
	})
	cancel()
	if err != nil {
		return err
	}

	frame, err := Encode(EventChatNewMessage, ChatDelivery{
		OrderID:    req.OrderID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderType: msg.SenderRole,
		Message:    msg.Body,
		Type:       msg.Type,
		Timestamp:  msg.At,
	})
	if err != nil {
		return err
	}

	sess, _ := r.sessions.Get(req.OrderID)
	handle, _ := r.sessions.Counterpart(req.OrderID, role)
	recipient := sess.DriverID
	if role == session.RoleDriver {
		recipient = sess.ClientID
	}
	r.deliver(ctx, EventChatNewMessage, handle, recipient, frame)
	return nil
}

// activeDriver is the driver to index in the session table; a pending order
// is not yet the driver's current session.
func activeDriver(o *order.Order) types.ID {
	if o.DriverID == nil || o.Status == order.StatusPending {
		return ""
	}
	return *o.DriverID
}

func driverUpdate(pos location.Position) DriverUpdate {
	return DriverUpdate{
		DriverID:  pos.DriverID,
		Lat:       pos.Point.Lat,
		Lon:       pos.Point.Lng,
		Speed:     pos.Speed,
		Heading:   pos.Heading,
		Battery:   pos.Battery,
		IsOnline:  pos.Online,
		UpdatedAt: pos.UpdatedAt,
	}
}

func (r *Router) emit(conn types.ConnID, event string, data any) bool {
	frame, err := Encode(event, data)
	if err != nil {
		r.log.Error("encode event failed", "event", event, logging.Err(err))
		return false
	}
	return r.hub.Send(conn, frame)
}

func (r *Router) broadcast(event string, data any, except types.ConnID) {
	frame, err := Encode(event, data)
	if err != nil {
		r.log.Error("encode event failed", "event", event, logging.Err(err))
		return
	}
	r.hub.Broadcast(frame, except)
}

func (r *Router) fail(p Peer, event string, err error) {
	en, fr := apperr.Messages(err)
	ev := ErrorEvent{Event: event, Error: en}
	ev.Message.EN = en
	ev.Message.FR = fr
	if apperr.KindOf(err) == apperr.KindDurable || apperr.KindOf(err) == apperr.KindInternal {
		r.log.Warn("realtime event failed", "event", event, "conn_id", p.ID, "user_id", p.UserID, logging.Err(err))
	} else {
		r.log.Debug("realtime event rejected", "event", event, "conn_id", p.ID, "user_id", p.UserID, logging.Err(err))
	}
	r.emit(p.ID, EventError, ev)
}

// deliver sends frame to handle or, failing that, to any live connection of
// userID. With no live connection the frame is queued in the outbox.
func (r *Router) deliver(ctx context.Context, event string, handle types.ConnID, userID types.ID, frame []byte) {
	if handle != "" && r.hub.Send(handle, frame) {
		metrics.OutboundDeliveriesTotal.WithLabelValues(metricEvent(event), "live").Inc()
		return
	}
	if userID == "" {
		metrics.OutboundDeliveriesTotal.WithLabelValues(metricEvent(event), "dropped").Inc()
		return
	}
	sent := false
	for _, c := range r.hub.ConnsOf(userID) {
		if r.hub.Send(c, frame) {
			sent = true
		}
	}
	if sent {
		metrics.OutboundDeliveriesTotal.WithLabelValues(metricEvent(event), "live").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.outbox.Push(ctx, userID, frame); err != nil {
		metrics.OutboundDeliveriesTotal.WithLabelValues(metricEvent(event), "dropped").Inc()
		r.log.Warn("outbox push failed", "event", event, "user_id", userID, logging.Err(err))
		return
	}
	metrics.OutboundDeliveriesTotal.WithLabelValues(metricEvent(event), "outbox").Inc()
}

// metricEvent folds per-order event names into one label value.
func metricEvent(event string) string {
	if !strings.HasPrefix(event, "order.") {
		return event
	}
	switch {
	case strings.HasSuffix(event, ".status"):
		return "order.status"
	case strings.HasSuffix(event, ".payment"):
		return "order.payment"
	}
	return event
}
