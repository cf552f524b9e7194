package user

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/infra"
	"fretlink/internal/types"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("FRETLINK_TEST_DSN")
	if dsn == "" {
		t.Skip("FRETLINK_TEST_DSN not set; skipping DB-backed user tests")
	}
	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	sql, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(string(sql), "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			lines = append(lines, line)
		}
	}
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply migration: %v", err)
		}
	}
	return NewStore(db), db
}

func seedUser(t *testing.T, db *pgxpool.Pool, role types.Role) types.ID {
	t.Helper()
	id := types.NewID()
	if _, err := db.Exec(context.Background(),
		`INSERT INTO users (id, role, full_name) VALUES ($1, $2, 'Test')`, string(id), string(role)); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, string(id))
	})
	return id
}

func TestStore_UpdateLocationAndGet(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	id := seedUser(t, db, types.RoleDriver)

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.UpdateLocation(ctx, id, types.Point{Lat: 6.37, Lng: 2.39}, at); err != nil {
		t.Fatalf("update location: %v", err)
	}
	u, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Location == nil || u.Location.Lat != 6.37 || u.Location.Lng != 2.39 {
		t.Errorf("location = %+v", u.Location)
	}
	if u.LocationAt == nil || !u.LocationAt.Equal(at) {
		t.Errorf("location time = %v, want %v", u.LocationAt, at)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := setupStore(t)
	if _, err := store.Get(context.Background(), "no-such-user"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_TripStatsAndDeviceToken(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	id := seedUser(t, db, types.RoleDriver)

	if err := store.IncrementTripStats(ctx, id, 12.5); err != nil {
		t.Fatalf("trip stats: %v", err)
	}
	if err := store.IncrementTripStats(ctx, id, 0); err != nil {
		t.Fatalf("trip stats: %v", err)
	}
	if err := store.SetDeviceToken(ctx, id, "fcm-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	u, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.TotalTrips != 2 || u.TotalDistanceKm != 12.5 {
		t.Errorf("stats = %d trips, %.1f km", u.TotalTrips, u.TotalDistanceKm)
	}
	if tok, _ := store.DeviceToken(ctx, id); tok != "fcm-token" {
		t.Errorf("device token = %q", tok)
	}
	if err := store.IncrementTripStats(ctx, "no-such-user", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing driver, got %v", err)
	}
}

func TestStore_CreditWalletJoinsTransaction(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	id := seedUser(t, db, types.RoleDriver)
	uow := infra.NewUnitOfWork(db)

	rollback := errors.New("rollback")
	err := uow.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := store.CreditWallet(ctx, id, 5000); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if u, _ := store.Get(ctx, id); u.WalletBalance != 0 {
		t.Fatalf("rolled back credit leaked: balance %d", u.WalletBalance)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = uow.WithinTx(ctx, func(ctx context.Context) error {
				_, err := store.CreditWallet(ctx, id, 100)
				return err
			})
		}()
	}
	wg.Wait()
	if u, _ := store.Get(ctx, id); u.WalletBalance != 1000 {
		t.Fatalf("expected balance 1000 after concurrent credits, got %d", u.WalletBalance)
	}
}
