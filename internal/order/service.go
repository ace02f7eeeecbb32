package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/events"
	"github.com/noah-isme/backend-antar/internal/obs"
)

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// StatusChangedPayload is the body of order.status_changed events.
type StatusChangedPayload struct {
	OrderID         string    `json:"orderId"`
	EstablishmentID string    `json:"establishmentId"`
	From            Status    `json:"from"`
	To              Status    `json:"to"`
	ActorRole       string    `json:"actorRole"`
	At              time.Time `json:"at"`
}

type Service struct {
	Store  Store
	Events Emitter
	Logger zerolog.Logger
}

// Get returns the order if the principal may see it.
func (s *Service) Get(ctx context.Context, p common.Principal, id uuid.UUID) (Order, error) {
	o, err := s.Store.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return Order{}, common.NotFound("ORDER_NOT_FOUND", "order not found")
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	if !visible(p, o) {
		return Order{}, common.NotFound("ORDER_NOT_FOUND", "order not found")
	}
	return o, nil
}

// List returns the orders the principal is involved in.
func (s *Service) List(ctx context.Context, p common.Principal, page common.Pagination, status Status) ([]Order, error) {
	f := ListFilter{Status: status, Limit: page.PerPage, Offset: page.Offset()}
	switch p.Role {
	case auth.RoleCustomer:
		f.CustomerID = p.UserID
	case auth.RoleEstablishment:
		f.EstablishmentID = p.EstablishmentID
	case auth.RoleDriver:
		f.DriverID = p.UserID
		f.Unassigned = true
	case auth.RoleAdmin:
	default:
		return nil, common.Forbidden("role not permitted for this operation")
	}
	return s.Store.List(ctx, f)
}

// UpdateStatus applies a lifecycle transition on behalf of p and emits
// order.status_changed.
func (s *Service) UpdateStatus(ctx context.Context, p common.Principal, id uuid.UUID, to Status) (Order, error) {
	current, err := s.Get(ctx, p, id)
	if err != nil {
		return Order{}, err
	}
	if err := CheckTransition(current.Status, to, p.Role); err != nil {
		switch {
		case errors.Is(err, ErrRoleNotAllowed):
			return Order{}, common.Forbidden(err.Error())
		default:
			return Order{}, common.Conflict("INVALID_TRANSITION", err.Error())
		}
	}
	updated, err := s.Store.UpdateStatus(ctx, id, current.Status, to, p)
	if errors.Is(err, ErrStaleStatus) {
		return Order{}, common.Conflict("STALE_STATUS", "order status changed, reload and retry")
	}
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	obs.ObserveOrderTransition(string(current.Status), string(to))
	s.Logger.Info().Str("order_id", id.String()).Str("from", string(current.Status)).Str("to", string(to)).
		Str("actor_role", p.Role).Msg("order status changed")

	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderStatusChanged, id.String(), StatusChangedPayload{
			OrderID:         id.String(),
			EstablishmentID: updated.EstablishmentID,
			From:            current.Status,
			To:              to,
			ActorRole:       p.Role,
			At:              updated.UpdatedAt,
		}); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", id.String()).Msg("emit status change")
		}
	}
	return updated, nil
}

// History returns the status changes of a visible order.
func (s *Service) History(ctx context.Context, p common.Principal, id uuid.UUID) ([]StatusChange, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.Store.History(ctx, id)
}

// AuthorizeWatch lets the event stream check the caller on the request context.
func (s *Service) AuthorizeWatch(ctx context.Context, rawID string) error {
	p, ok := common.PrincipalFrom(ctx)
	if !ok {
		return common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, nil)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return common.BadRequest("INVALID_ID", "order id must be a UUID", err)
	}
	_, err = s.Get(ctx, p, id)
	return err
}

func visible(p common.Principal, o Order) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCustomer:
		return o.CustomerID == p.UserID
	case auth.RoleEstablishment:
		return o.EstablishmentID == p.EstablishmentID
	case auth.RoleDriver:
		if o.DriverID != nil {
			return *o.DriverID == p.UserID
		}
		return o.Status == StatusReady
	default:
		return false
	}
}
