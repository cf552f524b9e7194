// README: Concurrency tests for order state transitions against Postgres (run with -race).
package order

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/infra"
	"fretlink/internal/modules/pricing"
	"fretlink/internal/types"
)

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	o, err := svc.Create(ctx, CreateCommand{
		ClientID:    "c_accept_cancel",
		DriverID:    ptr(types.ID("d1")),
		VehicleID:   "truck-test",
		ServiceType: ServiceTransport,
		Pickup:      Stop{Address: "Cotonou", Point: &types.Point{Lat: 6.37, Lng: 2.39}},
		Dropoff:     Stop{Address: "Porto-Novo", Point: &types.Point{Lat: 6.45, Lng: 2.50}},
		Cargo:       "ciment",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"})
		errs <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Actor: Actor{ID: "c_accept_cancel", Role: types.RoleClient}, Reason: "user_cancel"})
		errs <- err
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 || success > 2 {
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if success == 2 && got.Status != StatusCancelled {
		t.Fatalf("expected cancelled after accept+cancel, got %s", got.Status)
	}
	if success == 1 && got.Status != StatusAccepted && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func TestConcurrentAcceptUnassignedOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)

	o, err := svc.Create(ctx, CreateCommand{
		ClientID:    "c_accept_same",
		VehicleID:   "truck-test",
		ServiceType: ServiceDelivery,
		Pickup:      Stop{Address: "Cotonou"},
		Dropoff:     Stop{Address: "Ouidah"},
		Cargo:       "colis",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for _, d := range []types.ID{"d1", "d2", "d3", "d4", "d5"} {
		wg.Add(1)
		go func(d types.ID) {
			defer wg.Done()
			_, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: d})
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrForbidden) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
	if got.DriverID == nil || *got.DriverID == "" {
		t.Fatalf("expected driver_id to be set")
	}
}

func TestStore_JSONAppendsAndNumbering(t *testing.T) {
	ctx := context.Background()
	svc, store := setupTestService(t)

	first, err := svc.Create(ctx, CreateCommand{
		ClientID: "c_json", DriverID: ptr(types.ID("d1")), VehicleID: "truck-test", ServiceType: ServiceDelivery,
		Pickup: Stop{Address: "A"}, Dropoff: Stop{Address: "B"}, Cargo: "colis",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.Create(ctx, CreateCommand{
		ClientID: "c_json", VehicleID: "truck-test", ServiceType: ServiceDelivery,
		Pickup: Stop{Address: "A"}, Dropoff: Stop{Address: "B"}, Cargo: "colis",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Number == second.Number {
		t.Fatalf("order numbers must be unique, both %s", first.Number)
	}

	if _, err := svc.AppendMessage(ctx, MessageCommand{OrderID: first.ID, SenderID: "c_json", SenderRole: types.RoleClient, Body: "bonjour"}); err != nil {
		t.Fatalf("append message: %v", err)
	}
	got, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Body != "bonjour" {
		t.Fatalf("expected stored message, got %+v", got.Messages)
	}
	list, err := store.ListByParty(ctx, "c_json", 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 orders for client, got %d (%v)", len(list), err)
	}
}

type noopStats struct{}

func (noopStats) IncrementTripStats(context.Context, types.ID, float64) error { return nil }

func setupTestService(t *testing.T) (*Service, *Store) {
	t.Helper()

	dsn := os.Getenv("FRETLINK_TEST_DSN")
	if dsn == "" {
		t.Skip("FRETLINK_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO vehicles (id, name, price_per_km, min_price, active)
		VALUES ('truck-test', 'Camion test', 500, 5000, TRUE)
		ON CONFLICT (id) DO NOTHING`); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	store := NewStore(db)
	svc := NewService(Deps{
		Store:   store,
		Pricing: pricing.NewService(pricing.NewStore(db)),
		Users:   noopStats{},
		UoW:     infra.NewUnitOfWork(db),
	})
	return svc, store
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "migrations", "0001_init.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
