// README: User record fields touched by dispatch and settlement.
package user

import (
	"time"

	"fretlink/internal/types"
)

type User struct {
	ID              types.ID
	Role            types.Role
	FullName        string
	Phone           string
	DeviceToken     string
	Location        *types.Point
	LocationAt      *time.Time
	TotalTrips      int
	TotalDistanceKm float64
	WalletBalance   int64
	CreatedAt       time.Time
}
