// Package auth issues and validates the access tokens of the reference backend.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"example.com/attendance/internal/contract"
)

// Config holds signer parameters.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims represents the payload extracted from an access token.
type Claims struct {
	Subject   string
	Email     string
	Role      contract.Role
	TokenID   string
	ExpiresAt time.Time
}

// UserID returns the numeric user id carried in the subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// HasRole reports whether the claims carry one of roles.
func (c *Claims) HasRole(roles ...contract.Role) bool {
	if c == nil {
		return false
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Issue signs an HS256 token for user valid for cfg.TTL from now.
func Issue(user contract.User, cfg Config, now time.Time) (string, *Claims, error) {
	claims := &Claims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Email:     user.Email,
		Role:      user.Role,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(cfg.TTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.Subject,
		"email": claims.Email,
		"role":  string(claims.Role),
		"jti":   claims.TokenID,
		"iss":   cfg.Issuer,
		"iat":   now.Unix(),
		"exp":   claims.ExpiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse validates a token and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	tokenID, _ := claims["jti"].(string)
	if subject == "" || tokenID == "" {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	return &Claims{
		Subject:   subject,
		Email:     email,
		Role:      contract.Role(role),
		TokenID:   tokenID,
		ExpiresAt: exp.Time,
	}, nil
}
