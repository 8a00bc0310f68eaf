package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/garmentflow/garmentflow/internal/shared"
)

const testSecret = "s3cret-for-tests"

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "garmentflow", time.Hour)
	require.NoError(t, err)
	verifier, err := NewVerifier(testSecret, "garmentflow")
	require.NoError(t, err)

	token, err := issuer.Issue(shared.Principal{UserID: 9, Role: "Admin"})
	require.NoError(t, err)
	p, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, shared.Principal{UserID: 9, Role: "admin"}, p)
}

func TestVerifyRejects(t *testing.T) {
	verifier, err := NewVerifier(testSecret, "garmentflow")
	require.NoError(t, err)

	other, err := NewIssuer("another-secret", "garmentflow", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue(shared.Principal{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	expiredIssuer, err := NewIssuer(testSecret, "garmentflow", time.Minute)
	require.NoError(t, err)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue(shared.Principal{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	wrongIssuer, err := NewIssuer(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	foreign, err := wrongIssuer.Issue(shared.Principal{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           3,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "garmentflow", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-jwt",
		"forged":       forged,
		"expired":      expired,
		"wrong issuer": foreign,
		"no role":      noRole,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(token)
			require.ErrorIs(t, err, shared.ErrUnauthorized)
		})
	}
}

func TestEmptySecret(t *testing.T) {
	_, err := NewVerifier("", "")
	require.Error(t, err)
	_, err = NewIssuer("", "", 0)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "", time.Hour)
	require.NoError(t, err)
	verifier, err := NewVerifier(testSecret, "")
	require.NoError(t, err)
	token, err := issuer.Issue(shared.Principal{UserID: 4, Role: shared.RoleStaff})
	require.NoError(t, err)

	var seen shared.Principal
	h := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, int64(4), seen.UserID)
	require.Equal(t, shared.RoleStaff, seen.Role)
}
