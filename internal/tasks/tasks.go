// Package tasks defines the background jobs that settle offer usage after checkout.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/promotion"
)

const (
	TypeCouponRedeem    = "coupon:redeem"
	TypePromotionRedeem = "promotion:redeem"
)

type CouponRedeemPayload struct {
	Code    string    `json:"code"`
	OrderID uuid.UUID `json:"orderId"`
}

type PromotionRedeemPayload struct {
	PromotionID int64     `json:"promotionId"`
	OrderID     uuid.UUID `json:"orderId"`
}

// TaskClient is the subset of *asynq.Client used to schedule work.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules redemption tasks. Task IDs are derived from the order so a
// retried checkout cannot schedule the same redemption twice.
type Enqueuer struct {
	Client      TaskClient
	Queue       string
	MaxRetry    int
	TaskTimeout time.Duration
}

func (e Enqueuer) EnqueueCouponRedeem(ctx context.Context, code string, orderID uuid.UUID) error {
	return e.enqueue(ctx, TypeCouponRedeem, "coupon:"+orderID.String(), CouponRedeemPayload{Code: code, OrderID: orderID})
}

func (e Enqueuer) EnqueuePromotionRedeem(ctx context.Context, promotionID int64, orderID uuid.UUID) error {
	return e.enqueue(ctx, TypePromotionRedeem, "promotion:"+orderID.String(), PromotionRedeemPayload{PromotionID: promotionID, OrderID: orderID})
}

func (e Enqueuer) enqueue(ctx context.Context, typename, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typename, err)
	}
	opts := []asynq.Option{asynq.TaskID(id)}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(e.TaskTimeout))
	}
	_, err = e.Client.EnqueueContext(ctx, asynq.NewTask(typename, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", typename, err)
	}
	return nil
}

type CouponRedeemer interface {
	Redeem(ctx context.Context, code string, orderID uuid.UUID) error
}

type PromotionRedeemer interface {
	Redeem(ctx context.Context, promotionID int64, orderID uuid.UUID) error
}

// Handler processes redemption tasks on the worker.
type Handler struct {
	Coupons    CouponRedeemer
	Promotions PromotionRedeemer
	Logger     zerolog.Logger
}

// Mux registers every task type on a fresh ServeMux.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCouponRedeem, h.HandleCouponRedeem)
	mux.HandleFunc(TypePromotionRedeem, h.HandlePromotionRedeem)
	return mux
}

func (h *Handler) HandleCouponRedeem(ctx context.Context, t *asynq.Task) error {
	var p CouponRedeemPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("task", t.Type()).Str("coupon", p.Code).Str("order_id", p.OrderID.String()).Logger()
	return h.settle(log, h.Coupons.Redeem(ctx, p.Code, p.OrderID))
}

func (h *Handler) HandlePromotionRedeem(ctx context.Context, t *asynq.Task) error {
	var p PromotionRedeemPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("task", t.Type()).Int64("promotion_id", p.PromotionID).Str("order_id", p.OrderID.String()).Logger()
	return h.settle(log, h.Promotions.Redeem(ctx, p.PromotionID, p.OrderID))
}

// settle decides whether a redemption failure is worth retrying. An exhausted
// limit or a missing offer will not change on retry; the order keeps its price.
func (h *Handler) settle(log zerolog.Logger, err error) error {
	switch {
	case err == nil:
		log.Info().Msg("redemption recorded")
		return nil
	case errors.Is(err, coupon.ErrUsageExhausted), errors.Is(err, promotion.ErrUsageExhausted):
		log.Warn().Err(err).Msg("usage limit reached after checkout")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		if _, ok := pricing.AsRejection(err); ok {
			log.Warn().Err(err).Msg("offer rejected at redemption")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log.Error().Err(err).Msg("redemption failed")
		return err
	}
}
