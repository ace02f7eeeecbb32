package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-antar/internal/pricing"
)

// ErrUnavailable is returned when no quote can be produced right now.
var ErrUnavailable = errors.New("delivery: quote provider unavailable")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Route describes a single delivery leg.
type Route struct {
	EstablishmentID string `json:"establishmentId"`
	CityID          string `json:"cityId"`
	Pickup          Point  `json:"pickup"`
	Dropoff         Point  `json:"dropoff"`
}

// Provider quotes the delivery fee for a route.
type Provider interface {
	Name() string
	Quote(ctx context.Context, route Route) (pricing.DeliveryQuote, error)
}

func checkQuote(q pricing.DeliveryQuote) error {
	if q.Fee.IsNegative() || q.DistanceKm.IsNegative() {
		return fmt.Errorf("delivery: provider returned %w", pricing.ErrNegativeAmount)
	}
	return nil
}
