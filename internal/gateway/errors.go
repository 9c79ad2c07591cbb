package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed remote call.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindServerFault     Kind = "server_fault"
	KindUnreachable     Kind = "unreachable"
	KindUnknown         Kind = "unknown"
)

// Error is the classified failure of a remote call.
type Error struct {
	Kind    Kind
	Status  int // Zero when no response was received.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the transport error, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the classification of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

func classifyStatus(status int, serverMessage string) (Kind, string) {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated, orDefault(serverMessage, "Your session has expired. Please sign in again.")
	case status == http.StatusForbidden:
		return KindForbidden, "You do not have permission to perform this action"
	case status == http.StatusNotFound:
		return KindNotFound, "Resource not found"
	case status == http.StatusUnprocessableEntity:
		return KindValidation, orDefault(serverMessage, "Validation failed")
	case status >= 500:
		return KindServerFault, "Internal server error. Please try again later."
	default:
		return KindUnknown, orDefault(serverMessage, fmt.Sprintf("Error %d: %s", status, http.StatusText(status)))
	}
}

func unreachableMessage(baseURL string) string {
	return "Backend server not available. Please ensure the backend server is running at " + baseURL
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
