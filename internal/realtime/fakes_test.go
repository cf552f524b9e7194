package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fretlink/internal/modules/location"
	"fretlink/internal/modules/order"
	"fretlink/internal/modules/session"
	"fretlink/internal/types"
)

// fakeHub records every frame per connection. Only connections listed in
// live accept frames.
type fakeHub struct {
	mu     sync.Mutex
	live   map[types.ConnID]types.ID
	frames map[types.ConnID][][]byte
}

func newFakeHub() *fakeHub {
	return &fakeHub{live: make(map[types.ConnID]types.ID), frames: make(map[types.ConnID][][]byte)}
}

func (h *fakeHub) connect(conn types.ConnID, user types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live[conn] = user
}

func (h *fakeHub) Send(conn types.ConnID, frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[conn]; !ok {
		return false
	}
	h.frames[conn] = append(h.frames[conn], frame)
	return true
}

func (h *fakeHub) Broadcast(frame []byte, except types.ConnID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for conn := range h.live {
		if conn == except {
			continue
		}
		h.frames[conn] = append(h.frames[conn], frame)
		n++
	}
	return n
}

func (h *fakeHub) ConnsOf(user types.ID) []types.ConnID {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []types.ConnID
	for conn, u := range h.live {
		if u == user {
			out = append(out, conn)
		}
	}
	return out
}

// events returns the decoded envelopes received by conn.
func (h *fakeHub) events(t *testing.T, conn types.ConnID) []Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Envelope
	for _, f := range h.frames[conn] {
		env, err := Decode(f)
		if err != nil {
			t.Fatalf("undecodable frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (h *fakeHub) names(t *testing.T, conn types.ConnID) []string {
	var out []string
	for _, env := range h.events(t, conn) {
		out = append(out, env.Event)
	}
	return out
}

type locationWrite struct {
	id types.ID
	p  types.Point
}

type fakeUsers struct {
	mu     sync.Mutex
	writes []locationWrite
	fail   error
	tokens map[types.ID]string
}

func (u *fakeUsers) UpdateLocation(_ context.Context, id types.ID, p types.Point, _ time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail != nil {
		return u.fail
	}
	u.writes = append(u.writes, locationWrite{id, p})
	return nil
}

func (u *fakeUsers) DeviceToken(_ context.Context, id types.ID) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tokens[id], nil
}

type fakeOrders struct {
	mu         sync.Mutex
	orders     map[types.ID]order.Order
	tracking   []order.TrackCommand
	messages   []order.MessageCommand
	appendFail error
}

func (f *fakeOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (f *fakeOrders) AddTrackingPoint(_ context.Context, cmd order.TrackCommand) (order.TrackingPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracking = append(f.tracking, cmd)
	return order.TrackingPoint{Lat: cmd.Point.Lat, Lng: cmd.Point.Lng}, nil
}

func (f *fakeOrders) AppendMessage(_ context.Context, cmd order.MessageCommand) (order.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendFail != nil {
		return order.Message{}, f.appendFail
	}
	f.messages = append(f.messages, cmd)
	return order.Message{
		ID:         types.ID(fmt.Sprintf("m%d", len(f.messages))),
		SenderID:   cmd.SenderID,
		SenderRole: cmd.SenderRole,
		Body:       cmd.Body,
		Type:       "text",
		At:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

type memOutbox struct {
	mu     sync.Mutex
	queued map[types.ID][][]byte
}

func newMemOutbox() *memOutbox {
	return &memOutbox{queued: make(map[types.ID][][]byte)}
}

func (o *memOutbox) Push(_ context.Context, user types.ID, frames ...[]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued[user] = append(o.queued[user], frames...)
	return nil
}

func (o *memOutbox) Drain(_ context.Context, user types.ID) ([][]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queued[user]
	delete(o.queued, user)
	return out, nil
}

func (o *memOutbox) len(user types.ID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queued[user])
}

type push struct {
	token string
	data  map[string]string
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []push
}

func (p *fakePusher) Push(_ context.Context, token, _, _ string, data map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{token, data})
	return nil
}

type harness struct {
	router   *Router
	hub      *fakeHub
	registry *location.Registry
	sessions *session.Table
	users    *fakeUsers
	orders   *fakeOrders
	outbox   *memOutbox
	pusher   *fakePusher
	roll     float64
}

// newHarness wires a router whose sampler always draws h.roll.
func newHarness() *harness {
	h := &harness{
		hub:      newFakeHub(),
		registry: location.NewRegistry(),
		sessions: session.NewTable(),
		users:    &fakeUsers{tokens: make(map[types.ID]string)},
		orders:   &fakeOrders{orders: make(map[types.ID]order.Order)},
		outbox:   newMemOutbox(),
		pusher:   &fakePusher{},
		roll:     0.99,
	}
	h.router = NewRouter(Deps{
		Registry:       h.registry,
		Sessions:       h.sessions,
		Hub:            h.hub,
		Users:          h.users,
		Orders:         h.orders,
		Outbox:         h.outbox,
		Pusher:         h.pusher,
		SampleRate:     0.1,
		DurableTimeout: time.Second,
		Rand:           func() float64 { return h.roll },
	})
	return h
}

var (
	driverPeer = Peer{ID: "conn-d1", UserID: "d1", Role: types.RoleDriver}
	clientPeer = Peer{ID: "conn-c1", UserID: "c1", Role: types.RoleClient}
	observer   = Peer{ID: "conn-obs", UserID: "c9", Role: types.RoleClient}
)

func (h *harness) connect(peers ...Peer) {
	for _, p := range peers {
		h.hub.connect(p.ID, p.UserID)
	}
}

func (h *harness) seedOrder(id types.ID, status order.Status, driver types.ID) {
	o := order.Order{ID: id, Number: "CMD-2026-000001", ClientID: "c1", Status: status, Cargo: "ciment"}
	if driver != "" {
		o.DriverID = &driver
	}
	h.orders.mu.Lock()
	h.orders.orders[id] = o
	h.orders.mu.Unlock()
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	b, err := Encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeInto(t *testing.T, env Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
}

var errStoreDown = errors.New("store down")
