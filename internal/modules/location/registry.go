// README: In-memory driver position registry, lock-striped by driver id.
package location

import (
	"hash/fnv"
	"sync"

	"fretlink/internal/types"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[types.ID]Position
}

// Registry is safe for concurrent use. Reports for one driver are serialized
// by its shard lock; reports for different drivers proceed in parallel.
type Registry struct {
	shards [shardCount]*shard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[types.ID]Position)}
	}
	return r
}

func (r *Registry) shardFor(id types.ID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Report replaces the driver's entry and returns the previous online flag
// (false when the driver had no entry).
func (r *Registry) Report(pos Position) (wasOnline bool) {
	s := r.shardFor(pos.DriverID)
	s.mu.Lock()
	prev, ok := s.entries[pos.DriverID]
	s.entries[pos.DriverID] = pos
	s.mu.Unlock()
	return ok && prev.Online
}

// Get returns a copy of the driver's entry. Absent and offline are distinct:
// an offline driver returns (pos with Online=false, true).
func (r *Registry) Get(id types.ID) (Position, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	pos, ok := s.entries[id]
	s.mu.RUnlock()
	return pos, ok
}

// HandleOf returns the live connection handle of an online driver.
func (r *Registry) HandleOf(id types.ID) (types.ConnID, bool) {
	pos, ok := r.Get(id)
	if !ok || !pos.Online || pos.Handle == "" {
		return "", false
	}
	return pos.Handle, true
}

// MarkOffline flips every entry bound to handle to offline and returns the
// updated entries. Shards are visited one at a time; a report racing with the
// scan either lands before (and is flipped) or after (and stays online with
// its new handle).
func (r *Registry) MarkOffline(handle types.ConnID) []Position {
	if handle == "" {
		return nil
	}
	var affected []Position
	for _, s := range r.shards {
		s.mu.Lock()
		for id, pos := range s.entries {
			if pos.Handle != handle || !pos.Online {
				continue
			}
			pos.Online = false
			s.entries[id] = pos
			affected = append(affected, pos)
		}
		s.mu.Unlock()
	}
	return affected
}

// Online returns a snapshot of all online entries.
func (r *Registry) Online() []Position {
	var out []Position
	for _, s := range r.shards {
		s.mu.RLock()
		for _, pos := range s.entries {
			if pos.Online {
				out = append(out, pos)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *Registry) OnlineCount() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, pos := range s.entries {
			if pos.Online {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Nearby returns online drivers within radiusKm of p, closest first.
// limit <= 0 means no limit.
func (r *Registry) Nearby(p types.Point, radiusKm float64, limit int) []NearbyDriver {
	var out []NearbyDriver
	for _, pos := range r.Online() {
		d := DistanceKm(p, pos.Point)
		if d <= radiusKm {
			out = append(out, NearbyDriver{Position: pos, DistanceKm: d})
		}
	}
	sortByDistance(out, func(n NearbyDriver) float64 { return n.DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
