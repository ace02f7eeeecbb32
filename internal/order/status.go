package order

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-antar/internal/auth"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCanceled  Status = "canceled"
)

var (
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrRoleNotAllowed    = errors.New("order: role may not set this status")
	ErrUnknownStatus     = errors.New("order: unknown status")
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusPreparing, StatusCanceled},
	StatusPreparing: {StatusReady},
	StatusReady:     {StatusPickedUp},
	StatusPickedUp:  {StatusDelivered},
}

var roleTargets = map[string][]Status{
	auth.RoleEstablishment: {StatusConfirmed, StatusPreparing, StatusReady, StatusCanceled},
	auth.RoleDriver:        {StatusPickedUp, StatusDelivered},
	auth.RoleCustomer:      {StatusCanceled},
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusPickedUp, StatusDelivered, StatusCanceled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// CanTransition reports whether the lifecycle allows moving from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates from -> to for the given role. Admins may apply
// any valid transition; customers may only cancel a pending order.
func CheckTransition(from, to Status, role string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if role == auth.RoleAdmin {
		return nil
	}
	if role == auth.RoleCustomer && from != StatusPending {
		return fmt.Errorf("%w: customers can only cancel pending orders", ErrRoleNotAllowed)
	}
	for _, allowed := range roleTargets[role] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot set %s", ErrRoleNotAllowed, role, to)
}
