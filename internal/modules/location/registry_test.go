package location

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"fretlink/internal/types"
)

func pos(id string, handle string, lat, lng float64) Position {
	return Position{
		DriverID:  types.ID(id),
		Point:     types.Point{Lat: lat, Lng: lng},
		Online:    true,
		Handle:    types.ConnID(handle),
		UpdatedAt: time.Now(),
	}
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()

	if was := r.Report(pos("d1", "h1", 6.37, 2.39)); was {
		t.Fatal("first report must return wasOnline=false")
	}
	if was := r.Report(pos("d1", "h1", 6.40, 2.42)); !was {
		t.Fatal("second report must return wasOnline=true")
	}

	got, ok := r.Get("d1")
	if !ok {
		t.Fatal("expected entry")
	}
	if got.Point.Lat != 6.40 || got.Point.Lng != 2.42 {
		t.Fatalf("expected last report to win, got %+v", got.Point)
	}
}

func TestRegistry_AbsentVsOffline(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("unknown driver must be absent")
	}

	r.Report(pos("d1", "h1", 6.37, 2.39))
	r.MarkOffline("h1")

	got, ok := r.Get("d1")
	if !ok {
		t.Fatal("offline driver must still have an entry")
	}
	if got.Online {
		t.Fatal("expected offline")
	}
	if got.Point.Lat != 6.37 {
		t.Fatal("offline flip must keep last position")
	}
	if _, ok := r.HandleOf("d1"); ok {
		t.Fatal("offline driver has no live handle")
	}
}

func TestRegistry_MarkOfflineOnlyBoundEntries(t *testing.T) {
	r := NewRegistry()
	r.Report(pos("d1", "h1", 6.37, 2.39))
	r.Report(pos("d2", "h1", 6.38, 2.40))
	r.Report(pos("d3", "h2", 6.39, 2.41))

	affected := r.MarkOffline("h1")
	if len(affected) != 2 {
		t.Fatalf("expected 2 affected entries, got %d", len(affected))
	}
	for _, id := range []types.ID{"d1", "d2"} {
		if p, _ := r.Get(id); p.Online {
			t.Errorf("%s should be offline", id)
		}
	}
	if p, _ := r.Get("d3"); !p.Online {
		t.Error("d3 is bound to another handle and must stay online")
	}

	// second scan is a no-op
	if again := r.MarkOffline("h1"); len(again) != 0 {
		t.Errorf("expected no entries on repeat, got %d", len(again))
	}
	// reporting after offline brings the driver back with the new handle
	if was := r.Report(pos("d1", "h9", 6.37, 2.39)); was {
		t.Error("driver was offline, wasOnline must be false")
	}
	if h, ok := r.HandleOf("d1"); !ok || h != "h9" {
		t.Errorf("expected handle h9, got %q", h)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Report(pos("d1", "h1", 6.37, 2.39))

	got, _ := r.Get("d1")
	got.Point.Lat = 0

	again, _ := r.Get("d1")
	if again.Point.Lat != 6.37 {
		t.Fatal("mutating a returned entry must not affect the registry")
	}
}

func TestRegistry_Nearby(t *testing.T) {
	r := NewRegistry()
	r.Report(pos("near", "h1", 6.371, 2.391))
	r.Report(pos("mid", "h2", 6.40, 2.42))
	r.Report(pos("far", "h3", 9.30, 2.31))
	r.Report(pos("off", "h4", 6.372, 2.392))
	r.MarkOffline("h4")

	got := r.Nearby(types.Point{Lat: 6.37, Lng: 2.39}, 10, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers within 10km, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("unexpected order %v", got)
	}
	if limited := r.Nearby(types.Point{Lat: 6.37, Lng: 2.39}, 10, 1); len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
	if r.OnlineCount() != 3 {
		t.Fatalf("expected 3 online, got %d", r.OnlineCount())
	}
}

func TestRegistry_ConcurrentReportsAndScans(t *testing.T) {
	r := NewRegistry()
	const drivers = 50
	const reports = 200

	start := make(chan struct{})
	var wg sync.WaitGroup
	for d := 0; d < drivers; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			<-start
			id := fmt.Sprintf("d%d", d)
			for i := 0; i < reports; i++ {
				r.Report(pos(id, fmt.Sprintf("h%d", d), float64(i), float64(d)))
			}
		}(d)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 100; i++ {
			r.MarkOffline("h-unused")
			_ = r.OnlineCount()
		}
	}()
	close(start)
	wg.Wait()

	for d := 0; d < drivers; d++ {
		got, ok := r.Get(types.ID(fmt.Sprintf("d%d", d)))
		if !ok {
			t.Fatalf("d%d missing", d)
		}
		// each driver writes sequentially, so its last report wins
		if got.Point.Lat != reports-1 || got.Point.Lng != float64(d) {
			t.Fatalf("d%d torn entry %+v", d, got.Point)
		}
	}
}
