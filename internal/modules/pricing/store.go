// README: Pricing store backed by PostgreSQL (vehicle rate cards).
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fretlink/internal/apperr"
	"fretlink/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, vehicleID types.ID) (Rate, error) {
	r := Rate{VehicleID: vehicleID, Currency: types.DefaultCurrency}
	err := s.db.QueryRow(ctx, `
		SELECT name, price_per_km, min_price
		FROM vehicles
		WHERE id = $1 AND active`, string(vehicleID),
	).Scan(&r.Name, &r.PricePerKm, &r.MinPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrUnknownVehicle
	}
	if err != nil {
		return Rate{}, apperr.Durable("vehicles.get", err)
	}
	return r, nil
}
