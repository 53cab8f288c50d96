package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractTenantID(t *testing.T) {
	tenant := "tenant-dev"
	firebaseTenant := "tenant-firebase"

	testCases := []struct {
		name   string
		claims map[string]interface{}
		want   *string
	}{
		{
			name:   "top level tenantId",
			claims: map[string]interface{}{"tenantId": tenant},
			want:   &tenant,
		},
		{
			name: "firebase tenant claim",
			claims: map[string]interface{}{
				"firebase": map[string]interface{}{"tenant": firebaseTenant},
			},
			want: &firebaseTenant,
		},
		{
			name:   "missing tenant",
			claims: map[string]interface{}{},
			want:   nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractTenantID(tc.claims)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func TestDefaultCredentialExtractorWithTenantID(t *testing.T) {
	creds, err := DefaultCredentialExtractor(map[string]interface{}{
		"uid":            "user-123",
		"email":          "user@example.com",
		"tenantId":       "tenant-dev",
		"isAdmin":        true,
		"email_verified": true,
	})
	require.NoError(t, err)
	require.NotNil(t, creds.TenantID)
	require.Equal(t, "tenant-dev", *creds.TenantID)
}

func TestDefaultCredentialExtractorRequiresSubject(t *testing.T) {
	_, err := DefaultCredentialExtractor(map[string]interface{}{"email": "user@example.com"})
	require.Error(t, err)
}

func TestJWTMiddlewareWithHMAC(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignHMAC(secret, TokenClaims{Subject: "owner-1", IsAdmin: true, TenantID: "t-1"}, time.Now())
	require.NoError(t, err)

	var seen *UserCredentials
	h := JWT(HMACTokenVerifier(secret), nil)(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "owner-1", seen.Id)
	require.True(t, seen.IsAdmin)
	require.Equal(t, "t-1", *seen.TenantID)
}

func TestJWTMiddlewareRejectsWrongSecret(t *testing.T) {
	token, err := SignHMAC([]byte("other"), TokenClaims{Subject: "owner-1"}, time.Now())
	require.NoError(t, err)

	h := JWT(HMACTokenVerifier([]byte("test-secret")), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestHMACVerifierRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignHMAC(secret, TokenClaims{Subject: "owner-1", TTL: time.Minute}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = HMACTokenVerifier(secret)(context.Background(), token)
	require.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, anon.Code)

	member := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(member, req.WithContext(WithUser(req.Context(), &UserCredentials{Id: "u-1"})))
	require.Equal(t, http.StatusForbidden, member.Code)
}

func TestUnsignedTokenVerifierDecodesPayload(t *testing.T) {
	claims, err := UnsignedTokenVerifier()(context.Background(), "e30.eyJzdWIiOiJkZXYtdXNlciIsImlzQWRtaW4iOnRydWV9.")
	require.NoError(t, err)
	require.Equal(t, "dev-user", claims["sub"])
	require.Equal(t, true, claims["isAdmin"])
}
