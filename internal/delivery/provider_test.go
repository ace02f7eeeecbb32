package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/config"
	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/resilience"
)

var sampleRoute = Route{
	EstablishmentID: "est-1",
	CityID:          "sp",
	Pickup:          Point{Lat: -23.5614, Lng: -46.6559},
	Dropoff:         Point{Lat: -23.5874, Lng: -46.6576},
}

func TestHaversine(t *testing.T) {
	require.InDelta(t, 0, Haversine(sampleRoute.Pickup, sampleRoute.Pickup), 1e-9)
	// Paulista Ave to Ibirapuera park is just under 3 km.
	require.InDelta(t, 2.9, Haversine(sampleRoute.Pickup, sampleRoute.Dropoff), 0.1)
}

func TestFlatRateProvider(t *testing.T) {
	p := FlatRateProvider{BaseFee: decimal.RequireFromString("4"), PerKm: decimal.RequireFromString("1.5"), Places: 2}
	q, err := p.Quote(context.Background(), sampleRoute)
	require.NoError(t, err)
	require.True(t, q.DistanceKm.GreaterThan(decimal.RequireFromString("2.8")))
	expected := decimal.RequireFromString("4").Add(decimal.RequireFromString("1.5").Mul(q.DistanceKm)).Round(2)
	require.True(t, expected.Equal(q.Fee), "fee %s", q.Fee)

	same, err := p.Quote(context.Background(), Route{Pickup: sampleRoute.Pickup, Dropoff: sampleRoute.Pickup})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("4").Equal(same.Fee))
}

func TestHTTPProvider(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/quotes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req routeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "est-1", req.EstablishmentID)
		_, _ = w.Write([]byte(`{"distanceKm":"3.2","fee":"12.00"}`))
	}))
	defer srv.Close()

	p := HTTPProvider{BaseURL: srv.URL + "/", APIKey: "k", Client: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	q, err := p.Quote(context.Background(), sampleRoute)
	require.NoError(t, err)
	require.Equal(t, "Bearer k", gotAuth)
	require.True(t, decimal.RequireFromString("12").Equal(q.Fee))
	require.True(t, decimal.RequireFromString("3.2").Equal(q.DistanceKm))
}

func TestHTTPProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := HTTPProvider{BaseURL: srv.URL, Client: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 2, BaseBackoff: time.Millisecond}}
	_, err := p.Quote(context.Background(), sampleRoute)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPProviderRejectsNegativeFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"distanceKm":1,"fee":-3}`))
	}))
	defer srv.Close()

	p := HTTPProvider{BaseURL: srv.URL, Client: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	_, err := p.Quote(context.Background(), sampleRoute)
	require.ErrorIs(t, err, pricing.ErrNegativeAmount)
}

type countingProvider struct {
	calls atomic.Int32
}

func (*countingProvider) Name() string { return "counting" }

func (c *countingProvider) Quote(context.Context, Route) (pricing.DeliveryQuote, error) {
	c.calls.Add(1)
	return pricing.DeliveryQuote{DistanceKm: decimal.RequireFromString("2"), Fee: decimal.RequireFromString("7.5")}, nil
}

func TestCachedProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	next := &countingProvider{}
	p := CachedProvider{Next: next, R: rdb, TTL: time.Minute, Logger: zerolog.Nop()}
	first, err := p.Quote(context.Background(), sampleRoute)
	require.NoError(t, err)
	second, err := p.Quote(context.Background(), sampleRoute)
	require.NoError(t, err)
	require.Equal(t, int32(1), next.calls.Load())
	require.True(t, first.Fee.Equal(second.Fee))

	mr.FastForward(2 * time.Minute)
	_, err = p.Quote(context.Background(), sampleRoute)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{
		DeliveryProvider: "flat",
		DeliveryBaseFee:  decimal.RequireFromString("4"),
		DeliveryPerKmFee: decimal.RequireFromString("1"),
		CurrencyPlaces:   2,
	}
	p, err := NewFromConfig(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "flat", p.Name())

	cfg.DeliveryProvider = "carrier-pigeon"
	_, err = NewFromConfig(cfg, nil, zerolog.Nop())
	require.Error(t, err)
}
