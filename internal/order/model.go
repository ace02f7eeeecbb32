package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-antar/internal/pricing"
)

// Order is a placed order with its frozen pricing breakdown.
type Order struct {
	ID              uuid.UUID          `json:"id"`
	CustomerID      string             `json:"customerId"`
	EstablishmentID string             `json:"establishmentId"`
	CityID          string             `json:"cityId"`
	NeighborhoodID  string             `json:"neighborhoodId"`
	Status          Status             `json:"status"`
	Currency        string             `json:"currency"`
	Pricing         pricing.Result     `json:"pricing"`
	CouponCode      *string            `json:"couponCode,omitempty"`
	PromotionID     *int64             `json:"promotionId,omitempty"`
	DistanceKm      pricing.Money      `json:"distanceKm"`
	DeliveryAddress string             `json:"deliveryAddress"`
	Notes           *string            `json:"notes,omitempty"`
	DriverID        *string            `json:"driverId,omitempty"`
	Items           []pricing.LineItem `json:"items"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   string    `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	At        time.Time `json:"at"`
}

// ListFilter narrows order listings. Zero-valued fields are ignored.
type ListFilter struct {
	CustomerID      string
	EstablishmentID string
	DriverID        string
	// Unassigned includes ready orders without a driver alongside DriverID matches.
	Unassigned bool
	Status     Status
	Limit      int
	Offset     int
}
