// Package domain defines the business rules of the reference attendance backend.
package domain

import (
	"context"
	"errors"
	"math"
	"time"

	"example.com/attendance/internal/contract"
)

var (
	// ErrUserNotFound is returned when a user id or email is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when an email/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrDuplicateEmail is returned by repositories when an email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrAlreadyCheckedIn is returned by repositories when an open record already exists.
	ErrAlreadyCheckedIn = errors.New("user already has an open attendance record")
	// ErrNoActiveCheckIn is returned by repositories when there is no open record to close.
	ErrNoActiveCheckIn = errors.New("user has no open attendance record")
)

// ValidationError is a rule violation reported to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(message string) error { return &ValidationError{Message: message} }

// User is an account able to sign in.
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	Role         contract.Role
	PasswordHash []byte
	Active       bool
	CreatedAt    time.Time
}

// Contract returns the wire representation of the user.
func (u User) Contract() contract.User {
	return contract.User{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// Record is one check-in, closed by a later check-out.
type Record struct {
	ID          string
	UserID      int64
	CheckInAt   time.Time
	CheckInLat  float64
	CheckInLng  float64
	CheckOutAt  *time.Time
	CheckOutLat *float64
	CheckOutLng *float64
	Status      contract.AttendanceStatus
	HoursWorked float64
}

// Open reports whether the record still awaits a check-out.
func (r Record) Open() bool { return r.CheckOutAt == nil }

// close stamps the check-out and computes hours worked from whole minutes.
func (r *Record) close(at time.Time, lat, lng float64) {
	r.CheckOutAt = &at
	r.CheckOutLat = &lat
	r.CheckOutLng = &lng
	r.Status = contract.StatusCheckedOut
	minutes := math.Floor(at.Sub(r.CheckInAt).Minutes())
	r.HoursWorked = minutes / 60
}

// Response renders the record as a status payload.
func (r Record) Response() contract.StatusResponse {
	resp := contract.StatusResponse{
		Status:      r.Status,
		RecordID:    r.ID,
		CheckInAt:   r.CheckInAt.UTC().Format(time.RFC3339),
		HoursWorked: r.HoursWorked,
	}
	if r.CheckOutAt != nil {
		resp.CheckOutAt = r.CheckOutAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Cursor marks the last record of a page. Records order by check-in time,
// then id, both descending.
type Cursor struct {
	CheckInAt time.Time
	ID        string
}

// Before reports whether r sorts after the cursor position.
func (c *Cursor) Before(r Record) bool {
	if c == nil {
		return true
	}
	if !r.CheckInAt.Equal(c.CheckInAt) {
		return r.CheckInAt.Before(c.CheckInAt)
	}
	return r.ID < c.ID
}

// RecordFilter narrows ListRecords. Zero values mean no constraint.
type RecordFilter struct {
	UserID int64
	From   time.Time
	To     time.Time
	After  *Cursor
	Limit  int
}

// Repository captures persistence operations.
type Repository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)

	// InsertRecord stores an open record, failing with ErrAlreadyCheckedIn
	// when the user already has one.
	InsertRecord(ctx context.Context, record Record) error
	// CloseRecord persists the check-out of an open record, failing with
	// ErrNoActiveCheckIn when it was closed concurrently.
	CloseRecord(ctx context.Context, record Record) error
	ActiveRecord(ctx context.Context, userID int64) (*Record, error)
	LatestRecord(ctx context.Context, userID int64) (*Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)

	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// CoordinatesValid reports whether lat/lng are on the globe and not the null island.
func CoordinatesValid(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 &&
		lng >= -180 && lng <= 180 &&
		!(lat == 0 && lng == 0)
}
