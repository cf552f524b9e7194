// README: Order service implements state transitions, their side effects and persistence.
package order

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/logging"
	"fretlink/internal/metrics"
	"fretlink/internal/modules/location"
	"fretlink/internal/modules/pricing"
	"fretlink/internal/types"
)

var (
	ErrInvalidState = apperr.Conflict("invalid state transition", "transition de statut invalide")
	ErrNotFound     = apperr.NotFound("order not found", "commande introuvable")
	ErrConflict     = apperr.Conflict("order state conflict", "conflit sur le statut de la commande")
	ErrForbidden    = apperr.Authorization("not allowed for this order", "action non autorisee pour cette commande")
	ErrAlreadyRated = apperr.Conflict("order already rated", "commande deja notee")
	ErrNoUploads    = apperr.New(apperr.KindDurable, "file uploads unavailable", "televersement indisponible")
)

// initialPaymentStatus mirrors the payment workflow's first state.
const initialPaymentStatus = "pending"

const listLimit = 50

type Repository interface {
	NextSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	ListByParty(ctx context.Context, userID types.ID, limit int) ([]Order, error)
	UpdateStatus(ctx context.Context, t Transition) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	LockTracking(ctx context.Context, id types.ID) ([]TrackingPoint, error)
	AppendTracking(ctx context.Context, id types.ID, p TrackingPoint) error
	AppendPhoto(ctx context.Context, id types.ID, p Photo) error
	AppendMessage(ctx context.Context, id types.ID, m Message) error
	SetRating(ctx context.Context, id types.ID, r Rating) (bool, error)
}

type Pricing interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

type TripStats interface {
	IncrementTripStats(ctx context.Context, driverID types.ID, distanceKm float64) error
}

// Notifier pushes order events to connected parties. Calls are best effort.
type Notifier interface {
	OrderCreated(ctx context.Context, o Order)
	StatusChanged(ctx context.Context, o Order, from Status)
}

type nopNotifier struct{}

func (nopNotifier) OrderCreated(context.Context, Order)          {}
func (nopNotifier) StatusChanged(context.Context, Order, Status) {}

type Deps struct {
	Store    Repository
	Pricing  Pricing
	Users    TripStats
	UoW      infra.UnitOfWork
	Notifier Notifier
	Events   infra.EventPublisher
	Blobs    infra.BlobStore
	Log      *slog.Logger
}

type Service struct {
	store    Repository
	pricing  Pricing
	users    TripStats
	uow      infra.UnitOfWork
	notifier Notifier
	events   infra.EventPublisher
	blobs    infra.BlobStore
	log      *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		pricing:  d.Pricing,
		users:    d.Users,
		uow:      d.UoW,
		notifier: d.Notifier,
		events:   d.Events,
		blobs:    d.Blobs,
		log:      d.Log,
		now:      time.Now,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = infra.NopPublisher{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	return s
}

// SetNotifier wires the realtime router after construction; the router itself depends on the service.
func (s *Service) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   types.ID
	Role types.Role
}

type CreateCommand struct {
	ClientID    types.ID
	DriverID    *types.ID
	VehicleID   types.ID
	ServiceType ServiceType
	Pickup      Stop
	Dropoff     Stop
	Cargo       string
}

type AcceptCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type RefuseCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type StatusCommand struct {
	OrderID types.ID
	To      Status
	Actor   Actor
}

type CancelCommand struct {
	OrderID types.ID
	Actor   Actor
	Reason  string
}

type DisputeCommand struct {
	OrderID types.ID
	Actor   Actor
	Reason  string
}

type TrackCommand struct {
	OrderID  types.ID
	DriverID types.ID
	Point    types.Point
}

type PhotoCommand struct {
	OrderID     types.ID
	DriverID    types.ID
	Kind        PhotoKind
	FileName    string
	ContentType string
	Body        io.Reader
}

type RateCommand struct {
	OrderID  types.ID
	ClientID types.ID
	Score    int
	Comment  string
}

type MessageCommand struct {
	OrderID    types.ID
	SenderID   types.ID
	SenderRole types.Role
	Body       string
	Type       string
}

// FormatNumber renders the human order number for a sequence value.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("CMD-%d-%06d", year, seq)
}

func validatePoint(p *types.Point) bool {
	return p == nil || (p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180)
}

func (cmd CreateCommand) validate() error {
	switch {
	case cmd.ClientID == "":
		return apperr.Validation("client is required", "le client est obligatoire")
	case strings.TrimSpace(cmd.Pickup.Address) == "":
		return apperr.Validation("pickup address is required", "l'adresse de chargement est obligatoire")
	case strings.TrimSpace(cmd.Dropoff.Address) == "":
		return apperr.Validation("dropoff address is required", "l'adresse de livraison est obligatoire")
	case strings.TrimSpace(cmd.Cargo) == "":
		return apperr.Validation("cargo description is required", "la description de la marchandise est obligatoire")
	case cmd.VehicleID == "":
		return apperr.Validation("vehicle is required", "le vehicule est obligatoire")
	case !cmd.ServiceType.Valid():
		return apperr.Validation("unknown service type", "type de service inconnu")
	case !validatePoint(cmd.Pickup.Point) || !validatePoint(cmd.Dropoff.Point):
		return apperr.Validation("coordinates out of range", "coordonnees hors limites")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	req := pricing.QuoteRequest{VehicleID: cmd.VehicleID}
	var estimated *float64
	if cmd.Pickup.Point != nil && cmd.Dropoff.Point != nil {
		// the quote uses the exact distance; only the stored estimate is rounded
		d := location.DistanceKm(*cmd.Pickup.Point, *cmd.Dropoff.Point)
		rounded := location.RoundKm(d)
		estimated = &rounded
		if cmd.ServiceType == ServiceTransport {
			req.DistanceKm = &d
		}
	}
	quote, err := s.pricing.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            types.NewID(),
		ClientID:      cmd.ClientID,
		DriverID:      cmd.DriverID,
		VehicleID:     cmd.VehicleID,
		ServiceType:   cmd.ServiceType,
		Status:        StatusPending,
		StatusVersion: 0,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		Cargo:         strings.TrimSpace(cmd.Cargo),
		EstimatedKm:   estimated,
		Price:         quote.Price,
		PlatformFee:   quote.PlatformFee,
		DriverShare:   quote.DriverShare,
		PaymentStatus: initialPaymentStatus,
		CreatedAt:     now,
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		seq, err := s.store.NextSequence(ctx)
		if err != nil {
			return err
		}
		o.Number = FormatNumber(now.Year(), seq)
		if err := s.store.Create(ctx, o); err != nil {
			return err
		}
		return s.store.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: StatusNone,
			ToStatus:   StatusPending,
			ActorType:  types.RoleClient,
			ActorID:    &cmd.ClientID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.log.Info("order created", "order_id", o.ID, "order_number", o.Number, "price", o.Price.Amount)
	s.notifier.OrderCreated(ctx, *o)
	s.publish(ctx, "order.created", o, StatusNone)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// View returns the order if actor is one of its parties or an admin.
func (s *Service) View(ctx context.Context, id types.ID, actor Actor) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != types.RoleAdmin && !o.IsParty(actor.ID) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, actor Actor) ([]Order, error) {
	return s.store.ListByParty(ctx, actor.ID, listLimit)
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.DriverID != nil && *o.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	if !CanTransition(o.Status, StatusAccepted) {
		return nil, ErrInvalidState
	}
	driver := cmd.DriverID
	return s.transition(ctx, o, StatusAccepted, Actor{ID: driver, Role: types.RoleDriver}, &driver, nil)
}

// Refuse cancels a pending order on behalf of its assigned driver.
func (s *Service) Refuse(ctx context.Context, cmd RefuseCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.IsAssigned(cmd.DriverID) {
		return nil, ErrForbidden
	}
	if o.Status != StatusPending {
		return nil, ErrInvalidState
	}
	reason := RefusedReason
	return s.transition(ctx, o, StatusCancelled, Actor{ID: cmd.DriverID, Role: types.RoleDriver}, nil, &reason)
}

// UpdateStatus moves the order along the graph. Drivers must be assigned and
// follow the graph; admins may force any status except out of a terminal one.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Role {
	case types.RoleAdmin:
		if IsTerminal(o.Status) || o.Status == cmd.To || cmd.To == StatusNone {
			return nil, ErrInvalidState
		}
	case types.RoleDriver:
		if !o.IsAssigned(cmd.Actor.ID) {
			return nil, ErrForbidden
		}
		if !driverStatuses[cmd.To] || !CanTransition(o.Status, cmd.To) {
			return nil, ErrInvalidState
		}
	default:
		return nil, ErrForbidden
	}
	return s.transition(ctx, o, cmd.To, cmd.Actor, nil, nil)
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Role {
	case types.RoleAdmin:
	case types.RoleClient:
		if o.ClientID != cmd.Actor.ID {
			return nil, ErrForbidden
		}
	case types.RoleDriver:
		if !o.IsAssigned(cmd.Actor.ID) {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}
	return s.transition(ctx, o, StatusCancelled, cmd.Actor, nil, optionalReason(cmd.Reason))
}

func (s *Service) Dispute(ctx context.Context, cmd DisputeCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.Actor.Role == types.RoleAdmin || !o.IsParty(cmd.Actor.ID) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, apperr.Validation("dispute reason is required", "le motif du litige est obligatoire")
	}
	if !CanTransition(o.Status, StatusDisputed) {
		return nil, ErrInvalidState
	}
	return s.transition(ctx, o, StatusDisputed, cmd.Actor, nil, optionalReason(cmd.Reason))
}

func optionalReason(r string) *string {
	r = strings.TrimSpace(r)
	if r == "" {
		return nil
	}
	return &r
}

// transition persists one compare-and-set status change with its effects, then
// notifies. The order passed in is the snapshot the caller validated against.
func (s *Service) transition(ctx context.Context, o *Order, to Status, actor Actor, claim *types.ID, reason *string) (*Order, error) {
	t := Transition{
		OrderID:  o.ID,
		From:     o.Status,
		To:       to,
		Version:  o.StatusVersion,
		DriverID: claim,
		Reason:   reason,
		At:       s.now(),
	}
	measure := to == StatusCompleted && o.ActualKm == nil

	actorID := actor.ID
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		if measure {
			points, err := s.store.LockTracking(ctx, o.ID)
			if err != nil {
				return err
			}
			t.ActualKm = nil
			if len(points) >= 2 {
				km := location.RoundKm(location.PathKm(trackingPath(points)))
				t.ActualKm = &km
			}
		}
		ok, err := s.store.UpdateStatus(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if err := s.store.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: t.From,
			ToStatus:   to,
			ActorType:  actor.Role,
			ActorID:    &actorID,
			Reason:     reason,
			CreatedAt:  t.At,
		}); err != nil {
			return err
		}
		if to == StatusCompleted && o.DriverID != nil {
			return s.users.IncrementTripStats(ctx, *o.DriverID, tripDistance(o, t.ActualKm))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated := applyTransition(*o, t)
	metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.log.Info("order status changed",
		"order_id", o.ID, "from", t.From, "to", to, "actor_role", actor.Role, "actor_id", actor.ID)
	s.notifier.StatusChanged(ctx, updated, t.From)
	s.publish(ctx, "order.status", &updated, t.From)
	return &updated, nil
}

// tripDistance prefers the measured distance, then the estimate, then zero.
func tripDistance(o *Order, measured *float64) float64 {
	switch {
	case measured != nil:
		return *measured
	case o.ActualKm != nil:
		return *o.ActualKm
	case o.EstimatedKm != nil:
		return *o.EstimatedKm
	}
	return 0
}

func trackingPath(points []TrackingPoint) []types.Point {
	out := make([]types.Point, len(points))
	for i, p := range points {
		out[i] = types.Point{Lat: p.Lat, Lng: p.Lng}
	}
	return out
}

func applyTransition(o Order, t Transition) Order {
	o.Status = t.To
	o.StatusVersion++
	if t.DriverID != nil && o.DriverID == nil {
		d := *t.DriverID
		o.DriverID = &d
	}
	at := t.At
	switch t.To {
	case StatusAccepted:
		o.AcceptedAt = &at
	case StatusInTransit:
		o.StartedAt = &at
	case StatusCompleted:
		o.CompletedAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
		if t.Reason != nil {
			o.CancelReason = t.Reason
		}
	case StatusDisputed:
		if t.Reason != nil {
			o.DisputeReason = t.Reason
		}
	}
	if o.ActualKm == nil && t.ActualKm != nil {
		o.ActualKm = t.ActualKm
	}
	return o
}

func (s *Service) AddTrackingPoint(ctx context.Context, cmd TrackCommand) (TrackingPoint, error) {
	p := cmd.Point
	if !validatePoint(&p) || p.IsZero() {
		return TrackingPoint{}, apperr.Validation("coordinates out of range", "coordonnees hors limites")
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return TrackingPoint{}, err
	}
	if !o.IsAssigned(cmd.DriverID) {
		return TrackingPoint{}, ErrForbidden
	}
	if !trackingStatuses[o.Status] {
		return TrackingPoint{}, ErrInvalidState
	}
	tp := TrackingPoint{Lat: p.Lat, Lng: p.Lng, At: s.now()}
	if err := s.store.AppendTracking(ctx, o.ID, tp); err != nil {
		return TrackingPoint{}, err
	}
	return tp, nil
}

func (s *Service) AttachPhoto(ctx context.Context, cmd PhotoCommand) (Photo, error) {
	if cmd.Kind != PhotoLoading && cmd.Kind != PhotoDelivery {
		return Photo{}, apperr.Validation("unknown photo kind", "type de photo inconnu")
	}
	if cmd.Body == nil {
		return Photo{}, apperr.Validation("photo file is required", "le fichier photo est obligatoire")
	}
	if s.blobs == nil {
		return Photo{}, ErrNoUploads
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return Photo{}, err
	}
	if !o.IsAssigned(cmd.DriverID) {
		return Photo{}, ErrForbidden
	}
	if IsTerminal(o.Status) || o.Status == StatusPending {
		return Photo{}, ErrInvalidState
	}
	url, err := s.blobs.Put(ctx, "order-photos/"+string(o.ID), cmd.FileName, cmd.ContentType, cmd.Body)
	if err != nil {
		return Photo{}, apperr.Durable("blob.put", err)
	}
	photo := Photo{Kind: cmd.Kind, URL: url, At: s.now()}
	if err := s.store.AppendPhoto(ctx, o.ID, photo); err != nil {
		return Photo{}, err
	}
	return photo, nil
}

func (s *Service) Rate(ctx context.Context, cmd RateCommand) (Rating, error) {
	if cmd.Score < 1 || cmd.Score > 5 {
		return Rating{}, apperr.Validation("score must be between 1 and 5", "la note doit etre comprise entre 1 et 5")
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return Rating{}, err
	}
	if o.ClientID != cmd.ClientID {
		return Rating{}, ErrForbidden
	}
	if o.Status != StatusCompleted {
		return Rating{}, ErrInvalidState
	}
	r := Rating{Score: cmd.Score, Comment: strings.TrimSpace(cmd.Comment), At: s.now()}
	ok, err := s.store.SetRating(ctx, o.ID, r)
	if err != nil {
		return Rating{}, err
	}
	if !ok {
		return Rating{}, ErrAlreadyRated
	}
	return r, nil
}

// AppendMessage durably records a chat message from one of the order's parties.
func (s *Service) AppendMessage(ctx context.Context, cmd MessageCommand) (Message, error) {
	body := strings.TrimSpace(cmd.Body)
	if body == "" {
		return Message{}, apperr.Validation("message is empty", "le message est vide")
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return Message{}, err
	}
	switch cmd.SenderRole {
	case types.RoleClient:
		if o.ClientID != cmd.SenderID {
			return Message{}, ErrForbidden
		}
	case types.RoleDriver:
		if !o.IsAssigned(cmd.SenderID) {
			return Message{}, ErrForbidden
		}
	default:
		return Message{}, ErrForbidden
	}
	kind := cmd.Type
	if kind == "" {
		kind = "text"
	}
	m := Message{
		ID:         types.NewID(),
		SenderID:   cmd.SenderID,
		SenderRole: cmd.SenderRole,
		Body:       body,
		Type:       kind,
		At:         s.now(),
	}
	if err := s.store.AppendMessage(ctx, o.ID, m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// StatusEvent is the domain event published for every order change.
type StatusEvent struct {
	OrderID     types.ID  `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	ClientID    types.ID  `json:"clientId"`
	DriverID    *types.ID `json:"driverId,omitempty"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	At          time.Time `json:"at"`
}

func (s *Service) publish(ctx context.Context, key string, o *Order, from Status) {
	err := s.events.Publish(ctx, key, StatusEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		ClientID:    o.ClientID,
		DriverID:    o.DriverID,
		From:        from,
		To:          o.Status,
		At:          s.now(),
	})
	if err != nil {
		s.log.Warn("publish order event failed", "order_id", o.ID, "key", key, logging.Err(err))
	}
}
