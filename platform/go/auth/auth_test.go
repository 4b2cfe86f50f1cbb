package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	raw, err := json.Marshal(claims)
	require.NoError(t, err)
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(raw) + "."
}

func TestDefaultCredentialExtractor(t *testing.T) {
	creds, err := DefaultCredentialExtractor(map[string]interface{}{
		"user_id":        "user-123",
		"email":          "it@example.com",
		"email_verified": true,
		"atlasRoles":     []interface{}{"asset-manager"},
	})
	require.NoError(t, err)
	require.Equal(t, "user-123", creds.Id)
	require.True(t, creds.EmailVerified)
	require.False(t, creds.IsAdmin)
	require.True(t, creds.HasRole("asset-manager"))
	require.False(t, creds.HasRole(RoleAdmin))
}

func TestDefaultCredentialExtractorAdmin(t *testing.T) {
	testCases := []struct {
		name   string
		claims map[string]interface{}
	}{
		{name: "isAdmin flag", claims: map[string]interface{}{"sub": "u1", "isAdmin": true}},
		{name: "admin role", claims: map[string]interface{}{"sub": "u1", "atlasRoles": []interface{}{"admin"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := DefaultCredentialExtractor(tc.claims)
			require.NoError(t, err)
			require.True(t, creds.IsAdmin)
			require.True(t, creds.HasRole(RoleAdmin))
		})
	}
}

func TestDefaultCredentialExtractorRequiresSubject(t *testing.T) {
	_, err := DefaultCredentialExtractor(map[string]interface{}{"email": "x@example.com"})
	require.Error(t, err)

	_, err = DefaultCredentialExtractor(nil)
	require.Error(t, err)
}

func TestUnsignedTokenVerifierRejectsExpired(t *testing.T) {
	verify := UnsignedTokenVerifier()

	claims, err := verify(context.Background(), unsignedToken(t, map[string]interface{}{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, "u1", claims["sub"])

	_, err = verify(context.Background(), unsignedToken(t, map[string]interface{}{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))
	require.Error(t, err)

	_, err = verify(context.Background(), "garbage")
	require.Error(t, err)
}

func TestExtractJWTToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, found := ExtractJWTToken(req)
	require.False(t, found)

	req.Header.Set("Authorization", "bearer abc.def ")
	token, found := ExtractJWTToken(req)
	require.True(t, found)
	require.Equal(t, "abc.def", token)

	req.Header.Set("Authorization", "Basic xyz")
	_, found = ExtractJWTToken(req)
	require.False(t, found)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := JWT(UnsignedTokenVerifier(), nil)(RequireRole(RoleAdmin)(ok))

	testCases := []struct {
		name   string
		claims map[string]interface{}
		want   int
	}{
		{name: "anonymous", claims: nil, want: http.StatusUnauthorized},
		{name: "non admin", claims: map[string]interface{}{"sub": "u1"}, want: http.StatusForbidden},
		{name: "admin", claims: map[string]interface{}{"sub": "u1", "isAdmin": true}, want: http.StatusNoContent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/asset-tags", nil)
			if tc.claims != nil {
				req.Header.Set("Authorization", "Bearer "+unsignedToken(t, tc.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
			if tc.want >= http.StatusBadRequest {
				require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestJWTRejectsInvalidToken(t *testing.T) {
	called := false
	handler := JWT(UnsignedTokenVerifier(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}
