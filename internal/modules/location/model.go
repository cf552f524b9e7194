// README: Driver position entry held by the registry.
package location

import (
	"time"

	"fretlink/internal/types"
)

// Position is the latest known state of one driver. Entries are replaced
// wholesale on every report and flipped offline on disconnect, never deleted.
type Position struct {
	DriverID  types.ID     `json:"driverId"`
	Point     types.Point  `json:"point"`
	Heading   float64      `json:"heading"`
	Speed     float64      `json:"speed"`
	Battery   float64      `json:"battery"`
	Online    bool         `json:"online"`
	Handle    types.ConnID `json:"-"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type NearbyDriver struct {
	Position
	DistanceKm float64 `json:"distanceKm"`
}
