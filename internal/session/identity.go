package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"example.com/attendance/internal/contract"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateBootstrapping State = "bootstrapping"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// Identity is the resolved profile tied to the current credential.
type Identity struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Role      contract.Role
}

// FullName joins the first and last name.
func (i Identity) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == contract.RoleAdmin
}

func identityFrom(u contract.User) Identity {
	return Identity{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// tokenExpiry reads the exp claim without verifying the signature. The kiosk
// cannot verify tokens; the value is only a hint for scheduling refreshes.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
