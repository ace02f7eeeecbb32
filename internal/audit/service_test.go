package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/obs"
)

type stubStore struct {
	entries []Entry
	filter  ListFilter
}

func (s *stubStore) Insert(_ context.Context, e Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubStore) List(_ context.Context, f ListFilter) ([]Entry, error) {
	s.filter = f
	return s.entries, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true, SamplingRate: 1}

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/admin/coupons?status=active", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/coupons"))

	actor := ActorFromPrincipal(common.Principal{UserID: "admin-1", Role: "admin"})
	require.NoError(t, svc.Record(req.Context(), actor, "", "", "", req, http.StatusCreated, nil))
	require.Len(t, store.entries, 1)

	e := store.entries[0]
	require.Equal(t, ActorKindUser, e.ActorKind)
	require.Equal(t, "admin-1", *e.ActorUserID)
	require.Equal(t, "admin", *e.ActorRole)
	require.Equal(t, "POST /api/v1/admin/coupons", e.Action)
	require.Equal(t, "admin.coupons", e.ResourceType)
	require.Nil(t, e.ResourceID)
	require.Equal(t, http.StatusCreated, e.Status)
	require.Equal(t, "10.0.0.2", *e.IP)
	require.Equal(t, "req-123", *e.RequestID)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(e.Metadata, &meta))
	require.Equal(t, "status=active", meta["query"])
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, svc.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil))
	require.Empty(t, store.entries)
}

func TestActorFromPrincipal(t *testing.T) {
	require.Equal(t, ActorKindAnonymous, ActorFromPrincipal(common.Principal{}).Kind)
	a := ActorFromPrincipal(common.Principal{UserID: "u1", Role: "establishment"})
	require.Equal(t, ActorKindUser, a.Kind)
	require.Equal(t, "establishment", *a.Role)
}

func TestMiddlewareRecordsMutation(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := common.WithPrincipal(req.Context(), common.Principal{UserID: "staff-1", Role: "establishment"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.With(rec.Middleware(HTTPConfig{Action: "promotion.update", ResourceType: "promotion", ResourceIDParam: "id"})).
		Put("/admin/promotions/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/admin/promotions/42", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, store.entries, 1)

	e := store.entries[0]
	require.Equal(t, "promotion.update", e.Action)
	require.Equal(t, "promotion", e.ResourceType)
	require.Equal(t, "42", *e.ResourceID)
	require.Equal(t, http.StatusNoContent, e.Status)
	require.Equal(t, "staff-1", *e.ActorUserID)
}

func TestHandlerList(t *testing.T) {
	store := &stubStore{entries: []Entry{{Action: "coupon.create", Method: http.MethodPost}}}
	h := Handler{Store: store}

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit-logs?limit=25&page=3&resourceType=coupon", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 25, store.filter.Limit)
	require.Equal(t, 50, store.filter.Offset)
	require.Equal(t, "coupon", store.filter.ResourceType)

	var body struct {
		Data []Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
}
