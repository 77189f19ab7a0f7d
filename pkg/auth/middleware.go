// Package auth validates bearer tokens and enforces per-endpoint scopes for
// the trust sidecar.
package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trustgate/trustgate/pkg/api"
)

// TokenClaims are the JWT claims accepted by the sidecar. Scopes may arrive
// as a space-separated "scope" string, a "scopes" array, or a "roles" array.
type TokenClaims struct {
	jwt.RegisteredClaims
	Scope  string   `json:"scope,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// scopeSet flattens every claim form into one deduplicated list.
func (c *TokenClaims) scopeSet() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(scope string) {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[scope] {
			return
		}
		seen[scope] = true
		out = append(out, scope)
	}
	for _, s := range strings.Fields(c.Scope) {
		add(s)
	}
	for _, s := range c.Scopes {
		add(s)
	}
	for _, s := range c.Roles {
		add(s)
	}
	return out
}

// Validator validates JWT tokens and extracts the calling principal.
type Validator struct {
	secret   []byte
	rsaKey   *rsa.PublicKey
	issuer   string
	audience string
}

// NewHS256Validator builds a validator for HMAC-signed tokens.
func NewHS256Validator(secret []byte, issuer, audience string) *Validator {
	return &Validator{secret: secret, issuer: issuer, audience: audience}
}

// NewRS256Validator builds a validator for RSA-signed tokens.
func NewRS256Validator(key *rsa.PublicKey, issuer, audience string) *Validator {
	return &Validator{rsaKey: key, issuer: issuer, audience: audience}
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret == nil {
			return nil, fmt.Errorf("hmac tokens not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.rsaKey == nil {
			return nil, fmt.Errorf("rsa tokens not accepted")
		}
		return v.rsaKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

// Validate parses and validates a JWT token string. Expiry is checked when
// the token carries an exp claim; tokens without one are accepted.
func (v *Validator) Validate(tokenStr string) (*Principal, error) {
	claims := &TokenClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	return &Principal{Subject: claims.Subject, Scopes: claims.scopeSet()}, nil
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the bearer token and injects the principal.
// If validator is nil, all requests are rejected (fail closed).
func Authenticate(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				api.WriteUnauthorized(w, "Not authenticated")
				return
			}
			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}
			principal, err := validator.Validate(token)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireScope rejects requests whose principal lacks the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return RequireAnyScope(scope)
}

// RequireAnyScope rejects requests whose principal has none of the scopes.
func RequireAnyScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := GetPrincipal(r.Context())
			if err != nil {
				api.WriteUnauthorized(w, "Not authenticated")
				return
			}
			if !principal.HasAnyScope(scopes...) {
				api.WriteForbidden(w, "Insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
