package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/attendance/internal/contract"
)

// ErrRevokedToken is returned for tokens invalidated by logout.
var ErrRevokedToken = errors.New("token has been revoked")

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Revocations reports whether a token id was invalidated.
type Revocations interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Middleware provides HTTP middleware for bearer-token validation.
type Middleware struct {
	Config      Config
	Skipper     Skipper
	Revocations Revocations
}

// NewMiddleware constructs a middleware with optional skipper and revocation list.
func NewMiddleware(cfg Config, skipper Skipper, revocations Revocations) Middleware {
	return Middleware{Config: cfg, Skipper: skipper, Revocations: revocations}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if m.Revocations != nil {
			revoked, err := m.Revocations.IsRevoked(r.Context(), claims.TokenID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "server_error", "unable to verify token")
				return
			}
			if revoked {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrRevokedToken.Error())
				return
			}
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects requests whose claims do not carry one of roles.
func RequireRole(next http.Handler, roles ...contract.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken.Error())
			return
		}
		if !claims.HasRole(roles...) {
			writeError(w, http.StatusForbidden, "forbidden", "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return Parse(token, m.Config)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(contract.ErrorResponse{Type: code, Message: message})
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the verified claims of a request.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims attached by Wrap. Handlers mounted behind
// Wrap can rely on ok being true.
func FromContext(ctx context.Context) (claims *Claims, ok bool) {
	claims, ok = ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
