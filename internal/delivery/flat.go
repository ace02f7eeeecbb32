package delivery

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/pricing"
)

const earthRadiusKm = 6371.0088

// FlatRateProvider charges BaseFee plus PerKm for every great-circle kilometre.
type FlatRateProvider struct {
	BaseFee pricing.Money
	PerKm   pricing.Money
	Places  int32
}

func (FlatRateProvider) Name() string { return "flat" }

func (p FlatRateProvider) Quote(_ context.Context, route Route) (pricing.DeliveryQuote, error) {
	km := decimal.NewFromFloat(Haversine(route.Pickup, route.Dropoff)).Round(3)
	fee := p.BaseFee.Add(p.PerKm.Mul(km)).Round(p.Places)
	q := pricing.DeliveryQuote{DistanceKm: km, Fee: fee}
	return q, checkQuote(q)
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
