package order

import (
	"context"
	"io"
	"strings"
	"sync"

	"fretlink/internal/modules/pricing"
	"fretlink/internal/types"
)

// memStore is an in-memory Repository honouring the same compare-and-set
// semantics as the Postgres store.
type memStore struct {
	mu     sync.Mutex
	seq    int64
	orders map[types.ID]Order
	events []Event
	failOn string
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[types.ID]Order)}
}

func (m *memStore) NextSequence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *memStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Tracking = append([]TrackingPoint(nil), o.Tracking...)
	o.Messages = append([]Message(nil), o.Messages...)
	o.Photos = append([]Photo(nil), o.Photos...)
	return &o, nil
}

func (m *memStore) ListByParty(_ context.Context, userID types.ID, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.IsParty(userID) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "update" {
		return false, errStoreDown
	}
	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != t.From || o.StatusVersion != t.Version {
		return false, nil
	}
	if t.DriverID != nil && o.DriverID != nil && *o.DriverID != *t.DriverID {
		return false, nil
	}
	m.orders[t.OrderID] = applyTransition(o, t)
	return true, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) LockTracking(_ context.Context, id types.ID) ([]TrackingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]TrackingPoint(nil), o.Tracking...), nil
}

func (m *memStore) AppendTracking(_ context.Context, id types.ID, p TrackingPoint) error {
	return m.mutate(id, func(o *Order) { o.Tracking = append(o.Tracking, p) })
}

func (m *memStore) AppendPhoto(_ context.Context, id types.ID, p Photo) error {
	return m.mutate(id, func(o *Order) { o.Photos = append(o.Photos, p) })
}

func (m *memStore) AppendMessage(_ context.Context, id types.ID, msg Message) error {
	if m.failOn == "message" {
		return errStoreDown
	}
	return m.mutate(id, func(o *Order) { o.Messages = append(o.Messages, msg) })
}

func (m *memStore) SetRating(_ context.Context, id types.ID, r Rating) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != StatusCompleted || o.Rating != nil {
		return false, nil
	}
	o.Rating = &r
	m.orders[id] = o
	return true, nil
}

func (m *memStore) mutate(id types.ID, fn func(*Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	fn(&o)
	m.orders[id] = o
	return nil
}

type storeErr string

func (e storeErr) Error() string { return string(e) }

const errStoreDown = storeErr("store down")

// directUoW runs fn without a transaction. beforeTx, when set, runs first
// and stands in for a write that lands after the service read the order.
type directUoW struct {
	beforeTx func()
}

func (u *directUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.beforeTx != nil {
		u.beforeTx()
	}
	return fn(ctx)
}

type fakeRates map[types.ID]pricing.Rate

func (f fakeRates) GetRate(_ context.Context, id types.ID) (pricing.Rate, error) {
	r, ok := f[id]
	if !ok {
		return pricing.Rate{}, pricing.ErrUnknownVehicle
	}
	return r, nil
}

type tripCall struct {
	DriverID types.ID
	Km       float64
}

type fakeUsers struct {
	mu    sync.Mutex
	calls []tripCall
}

func (f *fakeUsers) IncrementTripStats(_ context.Context, id types.ID, km float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tripCall{DriverID: id, Km: km})
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  []Order
	statuses []Status
}

func (r *recordingNotifier) OrderCreated(_ context.Context, o Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, o)
}

func (r *recordingNotifier) StatusChanged(_ context.Context, o Order, _ Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, o.Status)
}

type fakeBlobs struct{ puts int }

func (f *fakeBlobs) Put(_ context.Context, folder, name, _ string, r io.Reader) (string, error) {
	f.puts++
	_, _ = io.Copy(io.Discard, r)
	return "https://blobs.test/" + folder + "/" + name, nil
}

type harness struct {
	svc      *Service
	store    *memStore
	uow      *directUoW
	users    *fakeUsers
	notifier *recordingNotifier
	blobs    *fakeBlobs
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		uow:      &directUoW{},
		users:    &fakeUsers{},
		notifier: &recordingNotifier{},
		blobs:    &fakeBlobs{},
	}
	h.svc = NewService(Deps{
		Store: h.store,
		Pricing: pricing.NewService(fakeRates{
			"truck": {VehicleID: "truck", PricePerKm: 500, MinPrice: 5000},
		}),
		Users:    h.users,
		UoW:      h.uow,
		Notifier: h.notifier,
		Blobs:    h.blobs,
	})
	return h
}

func ptr[T any](v T) *T { return &v }

func (h *harness) createOrder(driver types.ID) *Order {
	cmd := CreateCommand{
		ClientID:    "client-1",
		VehicleID:   "truck",
		ServiceType: ServiceTransport,
		Pickup:      Stop{Address: "Port de Cotonou", Point: &types.Point{Lat: 6.37, Lng: 2.39}},
		Dropoff:     Stop{Address: "Porto-Novo", Point: &types.Point{Lat: 6.45, Lng: 2.50}},
		Cargo:       "20 sacs de ciment",
	}
	if driver != "" {
		cmd.DriverID = ptr(driver)
	}
	o, err := h.svc.Create(context.Background(), cmd)
	if err != nil {
		panic("create order: " + err.Error())
	}
	return o
}

func driverActor(id types.ID) Actor { return Actor{ID: id, Role: types.RoleDriver} }

var adminActor = Actor{ID: "admin-1", Role: types.RoleAdmin}

func isNumber(s string) bool { return strings.HasPrefix(s, "CMD-") }
