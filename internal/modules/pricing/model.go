// README: Vehicle rate card and price quote definitions.
package pricing

import "fretlink/internal/types"

// PlatformFeeRate is the platform's share of every order price.
const PlatformFeeRate = 0.15

type Rate struct {
	VehicleID  types.ID
	Name       string
	PricePerKm int64
	MinPrice   int64
	Currency   string
}

type QuoteRequest struct {
	VehicleID types.ID
	// DistanceKm is set only when the price scales with distance
	// (transport orders with both endpoints geolocated).
	DistanceKm *float64
}

type Quote struct {
	Price       types.Money
	PlatformFee types.Money
	DriverShare types.Money
}
