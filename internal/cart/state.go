package cart

import (
	"time"

	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// State is the persisted shape of a customer's cart.
type State struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId"`
	EstablishmentID string             `json:"establishmentId,omitempty"`
	CityID          string             `json:"cityId,omitempty"`
	NeighborhoodID  string             `json:"neighborhoodId,omitempty"`
	Address         string             `json:"address,omitempty"`
	Pickup          *delivery.Point    `json:"pickup,omitempty"`
	Dropoff         *delivery.Point    `json:"dropoff,omitempty"`
	CouponCode      string             `json:"couponCode,omitempty"`
	Items           []pricing.LineItem `json:"items"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Pricing narrows the cart to what the calculator consumes.
func (s State) Pricing() pricing.Cart {
	return pricing.Cart{
		EstablishmentID: s.EstablishmentID,
		CityID:          s.CityID,
		NeighborhoodID:  s.NeighborhoodID,
		Items:           s.Items,
	}
}

// Route returns the delivery leg once both ends are known.
func (s State) Route() (delivery.Route, bool) {
	if s.Pickup == nil || s.Dropoff == nil {
		return delivery.Route{}, false
	}
	return delivery.Route{
		EstablishmentID: s.EstablishmentID,
		CityID:          s.CityID,
		Pickup:          *s.Pickup,
		Dropoff:         *s.Dropoff,
	}, true
}

// HasDeliveryArea reports whether the region and route are set.
func (s State) HasDeliveryArea() bool {
	_, ok := s.Route()
	return ok && s.CityID != "" && s.NeighborhoodID != ""
}

func (s *State) addItem(item pricing.LineItem) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if item.UnitPrice.IsNegative() {
		return pricing.ErrNegativeAmount
	}
	if len(s.Items) > 0 && item.EstablishmentID != s.EstablishmentID {
		return pricing.ErrMixedEstablishments
	}
	s.EstablishmentID = item.EstablishmentID
	for i := range s.Items {
		if s.Items[i].ProductID == item.ProductID {
			s.Items[i].Quantity += item.Quantity
			s.Items[i].UnitPrice = item.UnitPrice
			if item.Name != "" {
				s.Items[i].Name = item.Name
			}
			return nil
		}
	}
	s.Items = append(s.Items, item)
	return nil
}

func (s *State) setQuantity(productID string, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			s.Items[i].Quantity = qty
			return nil
		}
	}
	return ErrItemNotFound
}

func (s *State) removeItem(productID string) error {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
			if len(s.Items) == 0 {
				s.EstablishmentID = ""
				s.Pickup = nil
			}
			return nil
		}
	}
	return ErrItemNotFound
}
