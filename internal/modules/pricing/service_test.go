package pricing

import (
	"context"
	"errors"
	"testing"

	"fretlink/internal/types"
)

type fakeRates map[types.ID]Rate

func (f fakeRates) GetRate(_ context.Context, id types.ID) (Rate, error) {
	r, ok := f[id]
	if !ok {
		return Rate{}, ErrUnknownVehicle
	}
	return r, nil
}

func km(v float64) *float64 { return &v }

func TestService_Quote(t *testing.T) {
	svc := NewService(fakeRates{
		"truck": {VehicleID: "truck", PricePerKm: 500, MinPrice: 5000},
	})

	tests := []struct {
		name      string
		req       QuoteRequest
		wantPrice int64
		wantFee   int64
		wantShare int64
	}{
		{
			name:      "no distance uses minimum",
			req:       QuoteRequest{VehicleID: "truck"},
			wantPrice: 5000, wantFee: 750, wantShare: 4250,
		},
		{
			name:      "short distance below minimum",
			req:       QuoteRequest{VehicleID: "truck", DistanceKm: km(4)},
			wantPrice: 5000, wantFee: 750, wantShare: 4250,
		},
		{
			name:      "distance above minimum",
			req:       QuoteRequest{VehicleID: "truck", DistanceKm: km(20)},
			wantPrice: 10000, wantFee: 1500, wantShare: 8500,
		},
		{
			name:      "fractional distance rounds price",
			req:       QuoteRequest{VehicleID: "truck", DistanceKm: km(15.1457)},
			wantPrice: 7573, wantFee: 1136, wantShare: 6437,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := svc.Quote(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Price.Amount != tt.wantPrice || q.PlatformFee.Amount != tt.wantFee || q.DriverShare.Amount != tt.wantShare {
				t.Errorf("got price=%d fee=%d share=%d, want %d/%d/%d",
					q.Price.Amount, q.PlatformFee.Amount, q.DriverShare.Amount,
					tt.wantPrice, tt.wantFee, tt.wantShare)
			}
			if q.PlatformFee.Amount+q.DriverShare.Amount != q.Price.Amount {
				t.Errorf("fee + share must equal price")
			}
			if q.Price.Currency != types.DefaultCurrency {
				t.Errorf("unexpected currency %q", q.Price.Currency)
			}
		})
	}
}

func TestService_QuoteUnknownVehicle(t *testing.T) {
	svc := NewService(fakeRates{})
	if _, err := svc.Quote(context.Background(), QuoteRequest{VehicleID: "bike"}); !errors.Is(err, ErrUnknownVehicle) {
		t.Fatalf("expected ErrUnknownVehicle, got %v", err)
	}
}

func TestSplit_AlwaysSums(t *testing.T) {
	for _, price := range []int64{0, 1, 3, 7, 99, 1001, 123457} {
		fee, share := Split(price)
		if fee+share != price {
			t.Errorf("Split(%d) = %d + %d", price, fee, share)
		}
	}
}
