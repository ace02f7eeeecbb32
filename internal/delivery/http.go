package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/resilience"
)

// Doer is satisfied by resilience.HTTPClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPProvider asks an external routing service for the distance and fee.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  Doer
}

type routeRequest struct {
	Origin          Point  `json:"origin"`
	Destination     Point  `json:"destination"`
	EstablishmentID string `json:"establishmentId,omitempty"`
	CityID          string `json:"cityId,omitempty"`
}

type routeResponse struct {
	DistanceKm decimal.Decimal `json:"distanceKm"`
	Fee        decimal.Decimal `json:"fee"`
}

func (HTTPProvider) Name() string { return "http" }

func (p HTTPProvider) Quote(ctx context.Context, route Route) (pricing.DeliveryQuote, error) {
	payload, err := json.Marshal(routeRequest{
		Origin:          route.Pickup,
		Destination:     route.Dropoff,
		EstablishmentID: route.EstablishmentID,
		CityID:          route.CityID,
	})
	if err != nil {
		return pricing.DeliveryQuote{}, err
	}
	endpoint := strings.TrimRight(p.BaseURL, "/") + "/v1/quotes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return pricing.DeliveryQuote{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		var statusErr *resilience.StatusError
		if errors.Is(err, resilience.ErrOpenCircuit) || errors.As(err, &statusErr) {
			return pricing.DeliveryQuote{}, errors.Join(ErrUnavailable, err)
		}
		return pricing.DeliveryQuote{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pricing.DeliveryQuote{}, fmt.Errorf("delivery: routing service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var body routeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return pricing.DeliveryQuote{}, fmt.Errorf("delivery: decode routing response: %w", err)
	}
	q := pricing.DeliveryQuote{DistanceKm: body.DistanceKm, Fee: body.Fee}
	return q, checkQuote(q)
}
