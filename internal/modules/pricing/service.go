// README: Pricing service computes order price and the platform/driver split.
package pricing

import (
	"context"
	"math"

	"fretlink/internal/apperr"
	"fretlink/internal/types"
)

var ErrUnknownVehicle = apperr.Validation("unknown vehicle", "vehicule inconnu")

type RateSource interface {
	GetRate(ctx context.Context, vehicleID types.ID) (Rate, error)
}

type Service struct {
	rates RateSource
}

func NewService(rates RateSource) *Service {
	return &Service{rates: rates}
}

// Quote prices an order at the vehicle's minimum, or at distance × per-km
// rate when that is higher and a distance is given.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	rate, err := s.rates.GetRate(ctx, req.VehicleID)
	if err != nil {
		return Quote{}, err
	}
	price := rate.MinPrice
	if req.DistanceKm != nil && *req.DistanceKm > 0 {
		byDistance := int64(math.Round(*req.DistanceKm * float64(rate.PricePerKm)))
		if byDistance > price {
			price = byDistance
		}
	}
	fee, share := Split(price)
	return Quote{
		Price:       types.XOF(price),
		PlatformFee: types.XOF(fee),
		DriverShare: types.XOF(share),
	}, nil
}

// Split returns the platform fee and driver share of price. They always sum to price.
func Split(price int64) (fee, share int64) {
	fee = int64(math.Round(float64(price) * PlatformFeeRate))
	return fee, price - fee
}
