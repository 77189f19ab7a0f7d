package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func mintToken(t *testing.T, secret []byte, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "svc-adapter",
		"iss": "trustgate",
		"aud": "trust-sidecar",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func newTestValidator() *Validator {
	return NewHS256Validator(testSecret, "trustgate", "trust-sidecar")
}

func TestValidateScopeString(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["scope"] = "trust:ingest trust:read"
	})
	principal, err := newTestValidator().Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-adapter", principal.Subject)
	assert.True(t, principal.HasScope(ScopeIngest))
	assert.True(t, principal.HasScope(ScopeRead))
	assert.False(t, principal.HasScope(ScopeAdmin))
}

func TestValidateScopesArrayAndRoles(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["scopes"] = []string{"trust:export"}
		c["roles"] = []string{"trust:admin"}
	})
	principal, err := newTestValidator().Validate(token)
	require.NoError(t, err)
	assert.True(t, principal.HasScope(ScopeExport))
	assert.True(t, principal.HasScope(ScopeAdmin))
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["aud"] = "another-service"
	})
	_, err := newTestValidator().Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["iss"] = "someone-else"
	})
	_, err := newTestValidator().Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-time.Minute).Unix()
	})
	_, err := newTestValidator().Validate(token)
	assert.Error(t, err)
}

func TestValidateAcceptsMissingExpiry(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		delete(c, "exp")
	})
	principal, err := newTestValidator().Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-adapter", principal.Subject)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token := mintToken(t, []byte("other-secret"), nil)
	_, err := newTestValidator().Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsMissingSubject(t *testing.T) {
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		delete(c, "sub")
	})
	_, err := newTestValidator().Validate(token)
	assert.Error(t, err)
}

func protectedHandler(validator *Validator, guard func(http.Handler) http.Handler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Authenticate(validator)(guard(inner))
}

func TestAuthenticateMissingHeader(t *testing.T) {
	handler := protectedHandler(newTestValidator(), RequireScope(ScopeIngest))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not authenticated")
}

func TestAuthenticateBadToken(t *testing.T) {
	handler := protectedHandler(newTestValidator(), RequireScope(ScopeIngest))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired token")
}

func TestRequireScopeForbidden(t *testing.T) {
	handler := protectedHandler(newTestValidator(), RequireScope(ScopeAdmin))
	token := mintToken(t, testSecret, func(c jwt.MapClaims) {
		c["scope"] = "trust:read"
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/retention/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Insufficient scope")
}

func TestRequireAnyScopeAllowsEither(t *testing.T) {
	handler := protectedHandler(newTestValidator(), RequireAnyScope(ScopeRead, ScopeExport))
	for _, scope := range []string{"trust:read", "trust:export"} {
		token := mintToken(t, testSecret, func(c jwt.MapClaims) {
			c["scope"] = scope
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/audit-packs/pack_x/download", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, scope)
	}
}

func TestNilValidatorFailsClosed(t *testing.T) {
	handler := protectedHandler(nil, RequireScope(ScopeIngest))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, nil))
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
