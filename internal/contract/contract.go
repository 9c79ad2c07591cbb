// Package contract defines the wire payloads shared by the kiosk and the reference backend.
package contract

import "time"

// Role is the authorisation role of a user.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// AttendanceStatus is the authoritative check-in state of an employee.
type AttendanceStatus string

const (
	StatusCheckedIn  AttendanceStatus = "CHECKED_IN"
	StatusCheckedOut AttendanceStatus = "CHECKED_OUT"
	StatusUnknown    AttendanceStatus = "UNKNOWN"
)

// ParseStatus normalises a status string; anything unrecognised is StatusUnknown.
func ParseStatus(value string) AttendanceStatus {
	switch AttendanceStatus(value) {
	case StatusCheckedIn:
		return StatusCheckedIn
	case StatusCheckedOut:
		return StatusCheckedOut
	default:
		return StatusUnknown
	}
}

// User is the identity payload returned by the auth endpoints.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role"`
}

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /auth/login and POST /auth/refresh.
type TokenResponse struct {
	Token     string `json:"token"`
	User      User   `json:"user"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Location is a geographic fix attached to a submission.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// SubmitRequest is the payload for the check-in and check-out endpoints.
type SubmitRequest struct {
	Image    string   `json:"image"`
	Location Location `json:"location"`
}

// StatusResponse reports the attendance status after a submission or on query.
type StatusResponse struct {
	Status      AttendanceStatus `json:"status"`
	RecordID    string           `json:"recordId,omitempty"`
	CheckInAt   string           `json:"checkInAt,omitempty"`
	CheckOutAt  string           `json:"checkOutAt,omitempty"`
	HoursWorked float64          `json:"hoursWorked,omitempty"`
}

// AttendanceRecord is one check-in/check-out pair as listed for administrators.
type AttendanceRecord struct {
	RecordID    string           `json:"recordId"`
	UserID      int64            `json:"userId"`
	Status      AttendanceStatus `json:"status"`
	CheckInAt   time.Time        `json:"checkInAt"`
	CheckInLat  float64          `json:"checkInLat"`
	CheckInLng  float64          `json:"checkInLng"`
	CheckOutAt  *time.Time       `json:"checkOutAt,omitempty"`
	CheckOutLat *float64         `json:"checkOutLat,omitempty"`
	CheckOutLng *float64         `json:"checkOutLng,omitempty"`
	HoursWorked float64          `json:"hoursWorked"`
}

// RecordsResponse is returned by GET /attendance/records.
type RecordsResponse struct {
	Items      []AttendanceRecord `json:"items"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// ErrorResponse is the error body written by the backend.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
