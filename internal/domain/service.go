package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example.com/attendance/internal/contract"
)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates sign-in and attendance rules.
type Service struct {
	repo   Repository
	now    func() time.Time
	logger *log.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		logger: log.New(log.Writer(), "[domain] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput carries the evidence of a check-in or check-out.
type SubmitInput struct {
	Image string
	Lat   float64
	Lng   float64
}

// Authenticate verifies an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, invalid("Employee account is disabled")
	}
	return user, nil
}

// User resolves an account by id.
func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CheckIn opens an attendance record for the user.
func (s *Service) CheckIn(ctx context.Context, userID int64, in SubmitInput) (Record, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	existing, err := s.repo.ActiveRecord(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return Record{}, invalid("Employee is already checked in. Please check out first.")
	}
	if err := validateEvidence(in, "check-in"); err != nil {
		return Record{}, err
	}

	record := Record{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		CheckInAt:  s.now().UTC().Truncate(time.Microsecond),
		CheckInLat: in.Lat,
		CheckInLng: in.Lng,
		Status:     contract.StatusCheckedIn,
	}
	if err := s.repo.InsertRecord(ctx, record); err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			return Record{}, invalid("Employee is already checked in. Please check out first.")
		}
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	s.logger.Printf("user %d checked in at %s", user.ID, record.CheckInAt.Format(time.RFC3339))
	return record, nil
}

// CheckOut closes the user's open attendance record.
func (s *Service) CheckOut(ctx context.Context, userID int64, in SubmitInput) (Record, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	record, err := s.repo.ActiveRecord(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if record == nil {
		return Record{}, invalid("No active check-in found. Please check in first.")
	}
	if err := validateEvidence(in, "check-out"); err != nil {
		return Record{}, err
	}

	record.close(s.now().UTC().Truncate(time.Microsecond), in.Lat, in.Lng)
	if err := s.repo.CloseRecord(ctx, *record); err != nil {
		if errors.Is(err, ErrNoActiveCheckIn) {
			return Record{}, invalid("No active check-in found. Please check in first.")
		}
		return Record{}, fmt.Errorf("close record: %w", err)
	}
	s.logger.Printf("user %d checked out after %.2fh", user.ID, record.HoursWorked)
	return *record, nil
}

// Status reports the user's current attendance state. A user who never
// checked in is reported as checked out.
func (s *Service) Status(ctx context.Context, userID int64) (contract.StatusResponse, error) {
	record, err := s.repo.LatestRecord(ctx, userID)
	if err != nil {
		return contract.StatusResponse{}, err
	}
	if record == nil {
		return contract.StatusResponse{Status: contract.StatusCheckedOut}, nil
	}
	return record.Response(), nil
}

// Records lists attendance records, newest first. The returned cursor is
// non-nil when a further page may exist.
func (s *Service) Records(ctx context.Context, filter RecordFilter) ([]Record, *Cursor, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, nil, invalid("Invalid date range")
	}
	records, err := s.repo.ListRecords(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	var next *Cursor
	if len(records) == filter.Limit {
		last := records[len(records)-1]
		next = &Cursor{CheckInAt: last.CheckInAt, ID: last.ID}
	}
	return records, next, nil
}

// Revoke invalidates a token id until it would have expired anyway.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}
	return s.repo.RevokeToken(ctx, tokenID, expiresAt)
}

// IsRevoked reports whether a token id was revoked.
func (s *Service) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.repo.IsRevoked(ctx, tokenID)
}

func (s *Service) activeUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, invalid("Employee account is disabled")
	}
	return user, nil
}

func validateEvidence(in SubmitInput, action string) error {
	if !CoordinatesValid(in.Lat, in.Lng) {
		return invalid("Invalid GPS coordinates provided")
	}
	if strings.TrimSpace(in.Image) == "" {
		return invalid("Face image is required for " + action)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
