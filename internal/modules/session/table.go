// README: Session table keyed by order id with a driver index and TTL eviction of closed and idle sessions.
package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"fretlink/internal/metrics"
	"fretlink/internal/types"
)

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[types.ID]Session
}

// Table is safe for concurrent use. The driver index has its own lock and is
// never held together with a shard lock.
type Table struct {
	shards [shardCount]*shard

	idxMu    sync.RWMutex
	byDriver map[types.ID]types.ID

	now func() time.Time
}

func NewTable() *Table {
	t := &Table{byDriver: make(map[types.ID]types.ID), now: time.Now}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[types.ID]Session)}
	}
	return t
}

func (t *Table) shardFor(orderID types.ID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return t.shards[h.Sum32()%shardCount]
}

// update applies fn to the session for orderID under the shard lock,
// creating it first when create is true.
func (t *Table) update(orderID types.ID, create bool, fn func(*Session)) (Session, bool) {
	s := t.shardFor(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[orderID]
	if !ok {
		if !create {
			return Session{}, false
		}
		cur = Session{OrderID: orderID}
	}
	fn(&cur)
	cur.UpdatedAt = t.now()
	s.sessions[orderID] = cur
	return cur, true
}

// AttachClient binds the client handle, creating the session on demand.
func (t *Table) AttachClient(orderID, clientID types.ID, conn types.ConnID) Session {
	sess, _ := t.update(orderID, true, func(s *Session) {
		s.ClientConn = conn
		if clientID != "" {
			s.ClientID = clientID
		}
	})
	return sess
}

// AttachDriver binds the driver handle. The mirror status moves to accepted
// only from an empty or pending status, so a driver re-binding mid-trip keeps
// the trip status.
func (t *Table) AttachDriver(orderID, driverID types.ID, conn types.ConnID) Session {
	var prev types.ID
	sess, _ := t.update(orderID, true, func(s *Session) {
		prev = s.setDriver(driverID)
		s.DriverConn = conn
		if !s.Closed() && (s.Status == "" || s.Status == StatusPending) {
			s.Status = StatusAccepted
		}
	})
	t.reindex(prev, driverID, orderID)
	return sess
}

// SetStatus updates the mirror status of an existing session. closed marks a
// terminal status and starts the eviction clock.
func (t *Table) SetStatus(orderID types.ID, status string, closed bool) (Session, bool) {
	return t.update(orderID, false, func(s *Session) {
		s.Status = status
		if closed && s.ClosedAt == nil {
			at := t.now()
			s.ClosedAt = &at
		}
	})
}

// Bind records the parties of an order without touching the client handle;
// used when the order is known before either side connects. A different
// driver id drops the previous driver's handle and index entry.
func (t *Table) Bind(orderID, clientID, driverID types.ID, status string) Session {
	var prev types.ID
	sess, _ := t.update(orderID, true, func(s *Session) {
		if clientID != "" {
			s.ClientID = clientID
		}
		if driverID != "" {
			prev = s.setDriver(driverID)
		}
		if status != "" && !s.Closed() {
			s.Status = status
		}
	})
	if driverID != "" {
		t.reindex(prev, driverID, orderID)
	}
	return sess
}

// reindex points the driver index at orderID, dropping the entry of a
// replaced driver.
func (t *Table) reindex(prev, driverID, orderID types.ID) {
	if prev != "" && prev != driverID {
		t.dropIndex(prev, orderID)
	}
	t.idxMu.Lock()
	t.byDriver[driverID] = orderID
	t.idxMu.Unlock()
}

func (t *Table) Get(orderID types.ID) (Session, bool) {
	s := t.shardFor(orderID)
	s.mu.RLock()
	sess, ok := s.sessions[orderID]
	s.mu.RUnlock()
	return sess, ok
}

// ForDriver returns the driver's open session, if any.
func (t *Table) ForDriver(driverID types.ID) (Session, bool) {
	t.idxMu.RLock()
	orderID, ok := t.byDriver[driverID]
	t.idxMu.RUnlock()
	if !ok {
		return Session{}, false
	}
	sess, ok := t.Get(orderID)
	if !ok || sess.Closed() || sess.DriverID != driverID {
		return Session{}, false
	}
	return sess, true
}

// Counterpart returns the handle of the party opposite to the sender.
func (t *Table) Counterpart(orderID types.ID, sender Role) (types.ConnID, bool) {
	sess, ok := t.Get(orderID)
	if !ok {
		return "", false
	}
	if sender == RoleDriver {
		return sess.Handle(RoleClient)
	}
	return sess.Handle(RoleDriver)
}

// DetachHandle clears conn from every session it occupies and returns the
// number of sessions touched.
func (t *Table) DetachHandle(conn types.ConnID) int {
	if conn == "" {
		return 0
	}
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, sess := range s.sessions {
			changed := false
			if sess.DriverConn == conn {
				sess.DriverConn = ""
				changed = true
			}
			if sess.ClientConn == conn {
				sess.ClientConn = ""
				changed = true
			}
			if changed {
				s.sessions[id] = sess
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Teardown removes the session immediately.
func (t *Table) Teardown(orderID types.ID) {
	s := t.shardFor(orderID)
	s.mu.Lock()
	sess, ok := s.sessions[orderID]
	delete(s.sessions, orderID)
	s.mu.Unlock()
	if ok {
		t.dropIndex(sess.DriverID, orderID)
	}
}

func (t *Table) dropIndex(driverID, orderID types.ID) {
	if driverID == "" {
		return
	}
	t.idxMu.Lock()
	if t.byDriver[driverID] == orderID {
		delete(t.byDriver, driverID)
	}
	t.idxMu.Unlock()
}

// Evict removes sessions closed for longer than ttl, and sessions still open
// but untouched for longer than idle. A zero idle keeps open sessions.
func (t *Table) Evict(ttl, idle time.Duration) int {
	now := t.now()
	cutoff := now.Add(-ttl)
	type evicted struct{ orderID, driverID types.ID }
	var gone []evicted
	for _, s := range t.shards {
		s.mu.Lock()
		for id, sess := range s.sessions {
			expired := sess.ClosedAt != nil && !sess.ClosedAt.After(cutoff)
			stale := sess.ClosedAt == nil && idle > 0 && !sess.UpdatedAt.After(now.Add(-idle))
			if expired || stale {
				delete(s.sessions, id)
				gone = append(gone, evicted{id, sess.DriverID})
			}
		}
		s.mu.Unlock()
	}
	for _, e := range gone {
		t.dropIndex(e.driverID, e.orderID)
	}
	return len(gone)
}

func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// RunEvictor evicts closed and idle sessions every tick until ctx is done.
func (t *Table) RunEvictor(ctx context.Context, tick, ttl, idle time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Evict(ttl, idle); n > 0 {
				metrics.SessionsEvictedTotal.Add(float64(n))
				log.Debug("evicted sessions", "count", n, "remaining", t.Len())
			}
		}
	}
}
