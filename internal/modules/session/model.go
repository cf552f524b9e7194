// README: Order session binding the live handles of the two parties of one order.
package session

import (
	"time"

	"fretlink/internal/types"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleClient Role = "client"
)

// Mirror statuses the table itself sets; a driver binding to a pending
// session moves it to accepted.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
)

// Session is a value; the table hands out copies.
type Session struct {
	OrderID    types.ID     `json:"orderId"`
	DriverID   types.ID     `json:"driverId,omitempty"`
	ClientID   types.ID     `json:"clientId,omitempty"`
	DriverConn types.ConnID `json:"-"`
	ClientConn types.ConnID `json:"-"`
	Status     string       `json:"status"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	ClosedAt   *time.Time   `json:"closedAt,omitempty"`
}

func (s Session) Closed() bool {
	return s.ClosedAt != nil
}

// setDriver records driverID and returns the driver it replaced. The handle
// of a replaced driver is cleared.
func (s *Session) setDriver(driverID types.ID) types.ID {
	prev := s.DriverID
	if prev != "" && prev != driverID {
		s.DriverConn = ""
	}
	s.DriverID = driverID
	return prev
}

// Handle returns the live handle bound for role.
func (s Session) Handle(role Role) (types.ConnID, bool) {
	var h types.ConnID
	if role == RoleDriver {
		h = s.DriverConn
	} else {
		h = s.ClientConn
	}
	return h, h != ""
}
