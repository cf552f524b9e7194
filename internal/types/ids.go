// README: Identifier, geo point and connection handle value types.
package types

import "github.com/google/uuid"

// ID identifies a persisted entity (user, order, vehicle, wallet transaction).
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ConnID is an opaque handle for one live realtime connection.
// In-memory tables store handles, never connection objects.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the point carries no coordinates.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Role of an authenticated caller.
type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)
