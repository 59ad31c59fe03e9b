package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "bulletin.test"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"name":   "Ada Lovelace",
		"iss":    "bulletin.test",
		"scopes": "activities:read activities:write",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}, testConfig.Secret)

	claims, err := ParseClaims(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "Ada Lovelace", claims.Name)
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
	require.False(t, claims.HasScope(ScopeActivitiesAdmin))
}

func TestParseClaimsRejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"wrong secret": signToken(t, jwt.MapClaims{"sub": "u", "iss": "bulletin.test", "exp": time.Now().Add(time.Hour).Unix()}, "other"),
		"expired":      signToken(t, jwt.MapClaims{"sub": "u", "iss": "bulletin.test", "exp": time.Now().Add(-time.Hour).Unix()}, testConfig.Secret),
		"no subject":   signToken(t, jwt.MapClaims{"iss": "bulletin.test", "exp": time.Now().Add(time.Hour).Unix()}, testConfig.Secret),
		"wrong issuer": signToken(t, jwt.MapClaims{"sub": "u", "iss": "elsewhere", "exp": time.Now().Add(time.Hour).Unix()}, testConfig.Secret),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaims(token, testConfig)
			require.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}

	_, err := ParseClaims("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestAdminScopeImpliesOthers(t *testing.T) {
	claims := &Claims{Scopes: map[string]struct{}{ScopeActivitiesAdmin: {}}}
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.True(t, claims.HasScope(ScopeActivitiesWrite))

	var none *Claims
	require.False(t, none.HasScope(ScopeActivitiesRead))
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activities", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	token := signToken(t, jwt.MapClaims{"sub": "user-2", "iss": "bulletin.test", "scopes": []string{"activities:read"}, "exp": time.Now().Add(time.Hour).Unix()}, testConfig.Secret)
	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-2", seen.Subject)
}
