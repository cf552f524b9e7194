package location

import (
	"math"
	"testing"

	"fretlink/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 6.37, lng1: 2.39,
			lat2: 6.37, lng2: 2.39,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "Cotonou to Porto-Novo (~30km)",
			lat1: 6.3703, lng1: 2.3912,
			lat2: 6.4969, lng2: 2.6283,
			wantKm:    29.7,
			tolerance: 0.5,
		},
		{
			name: "Cotonou to Parakou (~327km)",
			lat1: 6.3703, lng1: 2.3912,
			lat2: 9.3077, lng2: 2.3158,
			wantKm:    326.7,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := haversineKm(6.0, 2.0, 7.0, 3.0)
	d2 := haversineKm(7.0, 3.0, 6.0, 2.0)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestPathKm_TrackingPoints(t *testing.T) {
	points := []types.Point{
		{Lat: 6.37, Lng: 2.39},
		{Lat: 6.40, Lng: 2.42},
		{Lat: 6.45, Lng: 2.50},
	}
	got := PathKm(points)
	if math.Abs(got-15.1458) > 0.001 {
		t.Fatalf("PathKm() = %f, want ~15.1458", got)
	}
	if RoundKm(got) != 15.1 {
		t.Fatalf("RoundKm() = %v, want 15.1", RoundKm(got))
	}
	// path distance is never shorter than the straight line between endpoints
	if got < DistanceKm(points[0], points[2]) {
		t.Fatalf("path %f shorter than direct %f", got, DistanceKm(points[0], points[2]))
	}
}

func TestPathKm_FewerThanTwoPoints(t *testing.T) {
	if PathKm(nil) != 0 {
		t.Error("expected 0 for no points")
	}
	if PathKm([]types.Point{{Lat: 6.37, Lng: 2.39}}) != 0 {
		t.Error("expected 0 for a single point")
	}
}

func TestSortByDistance_Drivers(t *testing.T) {
	drivers := []NearbyDriver{
		{Position: Position{DriverID: "c"}, DistanceKm: 5.0},
		{Position: Position{DriverID: "a"}, DistanceKm: 1.0},
		{Position: Position{DriverID: "b"}, DistanceKm: 3.0},
	}

	sortByDistance(drivers, func(d NearbyDriver) float64 { return d.DistanceKm })

	if drivers[0].DriverID != "a" || drivers[1].DriverID != "b" || drivers[2].DriverID != "c" {
		t.Errorf("unexpected sort order: %v", drivers)
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var drivers []NearbyDriver
	sortByDistance(drivers, func(d NearbyDriver) float64 { return d.DistanceKm })
}
