// README: Order aggregate, status graph and the actor rules layered on top of it.
package order

import (
	"time"

	"fretlink/internal/types"
)

type Status string

const (
	StatusNone         Status = "none"
	StatusPending      Status = "pending"
	StatusAccepted     Status = "accepted"
	StatusDriverComing Status = "driver_coming"
	StatusLoading      Status = "loading"
	StatusInTransit    Status = "in_transit"
	StatusUnloading    Status = "unloading"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusDisputed     Status = "disputed"
)

type ServiceType string

const (
	ServiceTransport ServiceType = "transport"
	ServiceMoving    ServiceType = "moving"
	ServiceDelivery  ServiceType = "delivery"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTransport, ServiceMoving, ServiceDelivery:
		return true
	}
	return false
}

// RefusedReason is recorded when the assigned driver declines a pending order.
const RefusedReason = "driver refused"

type Stop struct {
	Address string       `json:"address"`
	Point   *types.Point `json:"point,omitempty"`
}

type TrackingPoint struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

type PhotoKind string

const (
	PhotoLoading  PhotoKind = "loading"
	PhotoDelivery PhotoKind = "delivery"
)

type Photo struct {
	Kind PhotoKind `json:"kind"`
	URL  string    `json:"url"`
	At   time.Time `json:"at"`
}

type Message struct {
	ID         types.ID   `json:"id"`
	SenderID   types.ID   `json:"senderId"`
	SenderRole types.Role `json:"senderRole"`
	Body       string     `json:"body"`
	Type       string     `json:"type"`
	At         time.Time  `json:"at"`
}

type Rating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

type Order struct {
	ID            types.ID        `json:"id"`
	Number        string          `json:"orderNumber"`
	ClientID      types.ID        `json:"clientId"`
	DriverID      *types.ID       `json:"driverId,omitempty"`
	VehicleID     types.ID        `json:"vehicleId"`
	ServiceType   ServiceType     `json:"serviceType"`
	Status        Status          `json:"status"`
	StatusVersion int             `json:"statusVersion"`
	Pickup        Stop            `json:"pickup"`
	Dropoff       Stop            `json:"dropoff"`
	Cargo         string          `json:"cargoDescription"`
	EstimatedKm   *float64        `json:"estimatedKm,omitempty"`
	ActualKm      *float64        `json:"actualKm,omitempty"`
	Price         types.Money     `json:"price"`
	PlatformFee   types.Money     `json:"platformFee"`
	DriverShare   types.Money     `json:"driverShare"`
	PaymentStatus string          `json:"paymentStatus"`
	Tracking      []TrackingPoint `json:"tracking"`
	Photos        []Photo         `json:"photos"`
	Messages      []Message       `json:"messages"`
	Rating        *Rating         `json:"rating,omitempty"`
	CancelReason  *string         `json:"cancelReason,omitempty"`
	DisputeReason *string         `json:"disputeReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	AcceptedAt    *time.Time      `json:"acceptedAt,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
}

// IsParty reports whether id is the order's client or assigned driver.
func (o *Order) IsParty(id types.ID) bool {
	return o.ClientID == id || o.IsAssigned(id)
}

func (o *Order) IsAssigned(driverID types.ID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  types.Role
	ActorID    *types.ID
	Reason     *string
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow as code.
// cancelled and disputed are reachable from every non-terminal status.
var AllowedTransitions = map[Status][]Status{
	StatusPending:      {StatusAccepted, StatusCancelled, StatusDisputed},
	StatusAccepted:     {StatusDriverComing, StatusCancelled, StatusDisputed},
	StatusDriverComing: {StatusLoading, StatusCancelled, StatusDisputed},
	StatusLoading:      {StatusInTransit, StatusCancelled, StatusDisputed},
	StatusInTransit:    {StatusUnloading, StatusCancelled, StatusDisputed},
	StatusUnloading:    {StatusCompleted, StatusCancelled, StatusDisputed},
	StatusDisputed:     {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// driverStatuses are the targets the assigned driver moves the order through.
var driverStatuses = map[Status]bool{
	StatusDriverComing: true,
	StatusLoading:      true,
	StatusInTransit:    true,
	StatusUnloading:    true,
	StatusCompleted:    true,
}

// trackingStatuses are the statuses in which the driver may append tracking points.
var trackingStatuses = map[Status]bool{
	StatusDriverComing: true,
	StatusLoading:      true,
	StatusInTransit:    true,
	StatusUnloading:    true,
}

func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	if _, ok := AllowedTransitions[s]; ok || IsTerminal(s) {
		return s, true
	}
	return "", false
}
