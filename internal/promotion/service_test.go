package promotion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/lock"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	promos   map[int64]pricing.Promotion
	redeemed map[int64]map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{promos: map[int64]pricing.Promotion{}, redeemed: map[int64]map[uuid.UUID]bool{}}
}

func (m *memStore) Candidates(_ context.Context, _ pricing.DeliveryContext) ([]pricing.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pricing.Promotion, 0, len(m.promos))
	for _, p := range m.promos {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (pricing.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[id]
	if !ok {
		return pricing.Promotion{}, db.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Create(_ context.Context, p pricing.Promotion) (pricing.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.promos[p.ID] = p
	return p, nil
}

func (m *memStore) Update(_ context.Context, p pricing.Promotion) (pricing.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promos[p.ID]; !ok {
		return pricing.Promotion{}, db.ErrNotFound
	}
	m.promos[p.ID] = p
	return p, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]pricing.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pricing.Promotion
	for _, p := range m.promos {
		if f.EstablishmentID != nil && (p.Scope.EstablishmentID == nil || *p.Scope.EstablishmentID != *f.EstablishmentID) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) Redeem(_ context.Context, id int64, orderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redeemed[id][orderID] {
		return false, nil
	}
	p := m.promos[id]
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return false, ErrUsageExhausted
	}
	if m.redeemed[id] == nil {
		m.redeemed[id] = map[uuid.UUID]bool{}
	}
	m.redeemed[id][orderID] = true
	p.UsageCount++
	m.promos[id] = p
	return true, nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := newMemStore()
	return &Service{
		Store:   store,
		Locker:  lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond, MaxWait: time.Second},
		LockTTL: 5 * time.Second,
		Logger:  zerolog.Nop(),
	}, store
}

var admin = common.Principal{UserID: "root", Role: auth.RoleAdmin}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestApplicablePicksBestBenefit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, admin, pricing.Promotion{Name: "Five off", DiscountType: pricing.DiscountFixed, DiscountValue: dec("5"), Active: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, pricing.Promotion{Name: "Free ride", DiscountType: pricing.DiscountFreeDelivery, Active: true})
	require.NoError(t, err)

	dc := pricing.DeliveryContext{CityID: "A", EstablishmentID: "est-1"}
	sel, err := svc.Applicable(ctx, dec("40"), dc, dec("9"))
	require.NoError(t, err)
	require.NotNil(t, sel.Promotion)
	require.Equal(t, "Free ride", sel.Promotion.Name)
	require.True(t, sel.Effect.FreeDelivery)

	sel, err = svc.Applicable(ctx, dec("40"), dc, dec("2"))
	require.NoError(t, err)
	require.Equal(t, "Five off", sel.Promotion.Name)
	require.True(t, dec("5").Equal(sel.Effect.Discount))
}

func TestApplicableNone(t *testing.T) {
	svc, _ := newTestService(t)
	sel, err := svc.Applicable(context.Background(), dec("40"), pricing.DeliveryContext{}, dec("5"))
	require.NoError(t, err)
	require.Nil(t, sel.Promotion)
}

func TestCreateValidatesDefinition(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), admin, pricing.Promotion{Name: "", DiscountType: pricing.DiscountFixed})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INVALID_PROMOTION", appErr.Code)

	_, err = svc.Create(context.Background(), common.Principal{Role: auth.RoleDriver}, pricing.Promotion{Name: "x", DiscountType: pricing.DiscountFixed})
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusForbidden, appErr.HTTPStatus)
}

func TestUpdateAndDeactivate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	staff := common.Principal{UserID: "s", Role: auth.RoleEstablishment, EstablishmentID: "est-3"}
	created, err := svc.Create(ctx, staff, pricing.Promotion{Name: "Lunch", DiscountType: pricing.DiscountPercentage, DiscountValue: dec("10"), Active: true})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, staff, created.ID, pricing.Promotion{Name: "Lunch+", DiscountType: pricing.DiscountPercentage, DiscountValue: dec("15"), Active: true})
	require.NoError(t, err)
	require.Equal(t, "Lunch+", updated.Name)
	require.Equal(t, "est-3", *updated.Scope.EstablishmentID)

	other := common.Principal{UserID: "o", Role: auth.RoleEstablishment, EstablishmentID: "est-4"}
	_, err = svc.Deactivate(ctx, other, created.ID)
	require.Error(t, err)

	off, err := svc.Deactivate(ctx, staff, created.ID)
	require.NoError(t, err)
	require.False(t, off.Active)

	_, err = svc.Update(ctx, admin, 99, pricing.Promotion{Name: "x", DiscountType: pricing.DiscountFixed})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestRedeem(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	limit := 1
	created, err := svc.Create(ctx, admin, pricing.Promotion{Name: "One", DiscountType: pricing.DiscountFixed, DiscountValue: dec("1"), UsageLimit: &limit, Active: true})
	require.NoError(t, err)

	order := uuid.New()
	require.NoError(t, svc.Redeem(ctx, created.ID, order))
	require.NoError(t, svc.Redeem(ctx, created.ID, order))
	require.ErrorIs(t, svc.Redeem(ctx, created.ID, uuid.New()), ErrUsageExhausted)
	require.Equal(t, 1, store.promos[created.ID].UsageCount)
}

func TestCreateHandler(t *testing.T) {
	svc, _ := newTestService(t)
	h := &Handler{Svc: svc}
	req := httptest.NewRequest(http.MethodPost, "/admin/promotions", strings.NewReader(`{"name":"Weekend","discountType":"free_delivery","cityId":"A"}`))
	req = req.WithContext(common.WithPrincipal(req.Context(), admin))
	rr := httptest.NewRecorder()
	h.Create(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"discountType":"free_delivery"`)

	req = httptest.NewRequest(http.MethodPost, "/admin/promotions", strings.NewReader(`{"name":"Bad","discountType":"bogus"}`))
	req = req.WithContext(common.WithPrincipal(req.Context(), admin))
	rr = httptest.NewRecorder()
	h.Create(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_PROMOTION")

	req = httptest.NewRequest(http.MethodPost, "/admin/promotions", strings.NewReader(`{"name":"Loud","discountType":"PERCENTAGE","discountValue":"10"}`))
	req = req.WithContext(common.WithPrincipal(req.Context(), admin))
	rr = httptest.NewRecorder()
	h.Create(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"discountType":"percentage"`)
}
