package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/requestctx"
)

const defaultRoleClaim = "role"

// Authenticator verifies HS256 bearer tokens minted by the identity provider.
// A zero secret disables verification and every guarded route is open.
type Authenticator struct {
	secret    []byte
	issuer    string
	roleClaim string
	now       func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithRoleClaim overrides the claim roles are read from.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithClock overrides the clock used for exp/nbf validation.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds an Authenticator for the shared signing secret.
func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		roleClaim: defaultRoleClaim,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// RequireRole rejects requests without a valid token carrying one of the roles.
func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			identity, err := a.Verify(raw)
			if err != nil {
				requestctx.Logger(r.Context()).Warn("bearer verification failed", zap.Error(err))
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_token", "bearer token verification failed", http.StatusUnauthorized))
				return
			}
			if len(roles) > 0 && !hasAnyRole(identity, roles) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Identify attaches the identity of a valid bearer token and lets anonymous
// requests through. A token that is present but invalid is still rejected.
func (a *Authenticator) Identify() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !a.Enabled() || strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearerToken(header)
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization header invalid", http.StatusUnauthorized))
				return
			}
			identity, err := a.Verify(raw)
			if err != nil {
				requestctx.Logger(r.Context()).Warn("bearer verification failed", zap.Error(err))
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_token", "bearer token verification failed", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

var (
	// ErrTokenInvalid signals a malformed, unsigned or expired token.
	ErrTokenInvalid = errors.New("auth: bearer token invalid")
	// ErrIssuerMismatch signals a token minted by another issuer.
	ErrIssuerMismatch = errors.New("auth: bearer token issuer mismatch")
)

// Verify parses the token and returns its identity.
func (a *Authenticator) Verify(raw string) (*Identity, error) {
	if !a.Enabled() {
		return nil, ErrTokenInvalid
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	now := a.now().Unix()
	if !claims.VerifyExpiresAt(now, false) || !claims.VerifyNotBefore(now, false) {
		return nil, ErrTokenInvalid
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, ErrIssuerMismatch
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return &Identity{
		Subject: strings.TrimSpace(subject),
		Email:   strings.TrimSpace(email),
		Roles:   rolesFromClaim(claims[a.roleClaim]),
	}, nil
}

func hasAnyRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func rolesFromClaim(raw any) []string {
	switch v := raw.(type) {
	case string:
		if role := normaliseRole(v); role != "" {
			return []string{role}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if role := normaliseRole(s); role != "" {
					out = append(out, role)
				}
			}
		}
		return out
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
