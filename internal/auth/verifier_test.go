package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/common"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Secret: "test-secret", Issuer: "antar-auth", Audience: "antar-app"})
	require.NoError(t, err)
	return v
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue(common.Principal{UserID: "u-1", Role: RoleEstablishment, EstablishmentID: "est-1"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, common.Principal{UserID: "u-1", Role: RoleEstablishment, EstablishmentID: "est-1"}, p)
}

func TestVerifierRejectsForeignSecret(t *testing.T) {
	other, err := NewVerifier(VerifierConfig{Secret: "other", Issuer: "antar-auth", Audience: "antar-app"})
	require.NoError(t, err)
	token, err := other.Issue(common.Principal{UserID: "u-1", Role: RoleCustomer}, time.Minute)
	require.NoError(t, err)

	_, err = newTestVerifier(t).Parse(token)
	require.Error(t, err)
}

func TestVerifierRejectsEstablishmentWithoutID(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue(common.Principal{UserID: "u-1", Role: RoleEstablishment}, time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(token)
	require.Error(t, err)
}

func TestMiddlewareRoles(t *testing.T) {
	v := newTestVerifier(t)
	mw := Middleware{Verifier: v}
	var seen common.Principal
	handler := mw.RequireAuth(RequireRole(RoleAdmin, RoleDriver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(role string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			token, err := v.Issue(common.Principal{UserID: "u-" + role, Role: role}, time.Minute)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusForbidden, call(RoleCustomer))
	require.Equal(t, http.StatusNoContent, call(RoleDriver))
	require.Equal(t, "u-driver", seen.UserID)
}
