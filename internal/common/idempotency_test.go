package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute}, mr
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	idem, _ := newIdem(t)
	var calls int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		JSON(w, http.StatusCreated, map[string]string{"orderId": "o-1"})
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
		require.JSONEq(t, `{"orderId":"o-1"}`, rr.Body.String())
		if i == 1 {
			require.Equal(t, "true", rr.Header().Get("Idempotent-Replay"))
		}
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem, _ := newIdem(t)
	var calls int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "try again", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, want, rr.Code)
	}
}

func TestIdemInFlightConflict(t *testing.T) {
	idem, mr := newIdem(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("Idempotency-Key", "busy")
	require.NoError(t, mr.Set(idemKey(req, "busy"), idemPending))

	rr := httptest.NewRecorder()
	idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
}
