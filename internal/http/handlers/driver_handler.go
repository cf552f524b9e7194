// README: Driver discovery handlers backed by the live position registry.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fretlink/internal/apperr"
	"fretlink/internal/modules/location"
	"fretlink/internal/types"
)

const (
	defaultRadiusKm = 5.0
	maxRadiusKm     = 100.0
	defaultLimit    = 20
)

type DriverHandler struct {
	registry *location.Registry
}

func NewDriverHandler(registry *location.Registry) *DriverHandler {
	return &DriverHandler{registry: registry}
}

var errBadQuery = apperr.Validation("lat, lng and radius_km must be numbers in range", "lat, lng et radius_km doivent etre des nombres valides")

func floatQuery(c *gin.Context, key string, def float64) (float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

// Nearby lists online drivers around a point, closest first.
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, okLat := floatQuery(c, "lat", 0)
	lng, okLng := floatQuery(c, "lng", 0)
	radius, okRadius := floatQuery(c, "radius_km", defaultRadiusKm)
	if c.Query("lat") == "" || c.Query("lng") == "" || !okLat || !okLng || !okRadius {
		writeError(c, errBadQuery)
		return
	}
	p := types.Point{Lat: lat, Lng: lng}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || radius <= 0 || radius > maxRadiusKm {
		writeError(c, errBadQuery)
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, errBadQuery)
			return
		}
		limit = n
	}

	drivers := h.registry.Nearby(p, radius, limit)
	if drivers == nil {
		drivers = []location.NearbyDriver{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers, "online": h.registry.OnlineCount()})
}
