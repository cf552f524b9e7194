// README: User store backed by PostgreSQL; every write is transaction-aware.
package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/apperr"
	"fretlink/internal/infra"
	"fretlink/internal/types"
)

var ErrNotFound = apperr.NotFound("user not found", "utilisateur introuvable")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	var u User
	var lat, lng sql.NullFloat64
	var locAt sql.NullTime
	var token sql.NullString
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT id, role, full_name, phone, device_token,
		       current_lat, current_lng, location_updated_at,
		       total_trips, total_distance_km, wallet_balance, created_at
		FROM users
		WHERE id = $1`, string(id),
	).Scan(&u.ID, &u.Role, &u.FullName, &u.Phone, &token,
		&lat, &lng, &locAt,
		&u.TotalTrips, &u.TotalDistanceKm, &u.WalletBalance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Durable("users.get", err)
	}
	if lat.Valid && lng.Valid {
		u.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if locAt.Valid {
		u.LocationAt = &locAt.Time
	}
	u.DeviceToken = token.String
	return &u, nil
}

// UpdateLocation stores a sampled position on the user record.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE users
		SET current_lat = $2, current_lng = $3, location_updated_at = $4
		WHERE id = $1`, string(id), p.Lat, p.Lng, at)
	return apperr.Durable("users.update_location", err)
}

func (s *Store) IncrementTripStats(ctx context.Context, id types.ID, distanceKm float64) error {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE users
		SET total_trips = total_trips + 1,
		    total_distance_km = total_distance_km + $2
		WHERE id = $1`, string(id), distanceKm)
	if err != nil {
		return apperr.Durable("users.increment_trip_stats", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// CreditWallet adds amount to the wallet balance and returns the new balance.
func (s *Store) CreditWallet(ctx context.Context, id types.ID, amount int64) (int64, error) {
	var balance int64
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		UPDATE users
		SET wallet_balance = wallet_balance + $2
		WHERE id = $1
		RETURNING wallet_balance`, string(id), amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, apperr.Durable("users.credit_wallet", err)
	}
	return balance, nil
}

func (s *Store) DeviceToken(ctx context.Context, id types.ID) (string, error) {
	var token sql.NullString
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `SELECT device_token FROM users WHERE id = $1`, string(id)).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", apperr.Durable("users.device_token", err)
	}
	return token.String, nil
}

func (s *Store) SetDeviceToken(ctx context.Context, id types.ID, token string) error {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `UPDATE users SET device_token = $2 WHERE id = $1`, string(id), token)
	if err != nil {
		return apperr.Durable("users.set_device_token", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}
