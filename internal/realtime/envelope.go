// README: Wire envelope and payloads exchanged over the realtime websocket.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"fretlink/internal/modules/order"
	"fretlink/internal/types"
)

// Inbound event names.
const (
	EventDriverLocation = "driver.location"
	EventOrderTrack     = "order.track"
	EventDriverAccept   = "driver.acceptOrder"
	EventChatMessage    = "chat.message"
	EventPing           = "ping"
)

// Outbound event names. Per-order status and payment events are built with
// StatusEventName and PaymentEventName.
const (
	EventDriversUpdate  = "drivers.update"
	EventDriverPosition = "order.driverLocation"
	EventChatNewMessage = "chat.newMessage"
	EventOrderNew       = "order.new"
	EventPong           = "pong"
	EventError          = "error"
)

func StatusEventName(orderID types.ID) string {
	return fmt.Sprintf("order.%s.status", orderID)
}

func PaymentEventName(orderID types.ID) string {
	return fmt.Sprintf("order.%s.payment", orderID)
}

// Envelope is one JSON text frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	return env, nil
}

type LocationReport struct {
	DriverID types.ID `json:"driverId"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Speed    float64  `json:"speed"`
	Heading  float64  `json:"heading"`
	Battery  float64  `json:"battery"`
	IsOnline *bool    `json:"isOnline"`
}

type TrackRequest struct {
	OrderID  types.ID `json:"orderId"`
	ClientID types.ID `json:"clientId"`
}

type AcceptRequest struct {
	OrderID  types.ID `json:"orderId"`
	DriverID types.ID `json:"driverId"`
}

type ChatRequest struct {
	OrderID    types.ID   `json:"orderId"`
	SenderID   types.ID   `json:"senderId"`
	SenderType types.Role `json:"senderType"`
	Message    string     `json:"message"`
	Type       string     `json:"type"`
}

type DriverUpdate struct {
	DriverID  types.ID  `json:"driverId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Battery   float64   `json:"battery"`
	IsOnline  bool      `json:"isOnline"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DriverPosition struct {
	OrderID types.ID `json:"orderId"`
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Speed   float64  `json:"speed"`
	Heading float64  `json:"heading"`
}

type ChatDelivery struct {
	OrderID    types.ID   `json:"orderId"`
	MessageID  types.ID   `json:"messageId"`
	SenderID   types.ID   `json:"senderId"`
	SenderType types.Role `json:"senderType"`
	Message    string     `json:"message"`
	Type       string     `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
}

type StatusUpdate struct {
	OrderID types.ID `json:"orderId"`
	Status  string   `json:"status"`
	From    string   `json:"from,omitempty"`
}

type NewOrder struct {
	OrderID     types.ID    `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	Pickup      order.Stop  `json:"pickup"`
	Cargo       string      `json:"cargo"`
	Amount      types.Money `json:"amount"`
	DriverShare types.Money `json:"driverShare"`
}

type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Error   string `json:"error"`
	Message struct {
		EN string `json:"en"`
		FR string `json:"fr"`
	} `json:"message"`
}
