// Package memory provides an in-process Repository for local runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/attendance/internal/domain"
)

// Repository keeps users, records and revoked tokens in maps.
type Repository struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]domain.User
	records []domain.Record
	revoked map[string]time.Time
	now     func() time.Time
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		users:   make(map[int64]domain.User),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CreateUser stores user under the next id.
func (r *Repository) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, domain.ErrDuplicateEmail
		}
	}
	r.nextID++
	user.ID = r.nextID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now().UTC()
	}
	r.users[user.ID] = user
	return user, nil
}

// FindUserByEmail returns nil when no user matches.
func (r *Repository) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

// FindUserByID returns nil when no user matches.
func (r *Repository) FindUserByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// InsertRecord implements domain.Repository.
func (r *Repository) InsertRecord(_ context.Context, record domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeIndex(record.UserID) >= 0 {
		return domain.ErrAlreadyCheckedIn
	}
	r.records = append(r.records, record)
	return nil
}

// CloseRecord implements domain.Repository.
func (r *Repository) CloseRecord(_ context.Context, record domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.records {
		if r.records[i].ID == record.ID && r.records[i].Open() {
			r.records[i] = record
			return nil
		}
	}
	return domain.ErrNoActiveCheckIn
}

// ActiveRecord returns the open record of userID, if any.
func (r *Repository) ActiveRecord(_ context.Context, userID int64) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.activeIndex(userID); i >= 0 {
		record := r.records[i]
		return &record, nil
	}
	return nil, nil
}

// LatestRecord returns the most recent record of userID, if any.
func (r *Repository) LatestRecord(_ context.Context, userID int64) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Record
	for i := range r.records {
		rec := r.records[i]
		if rec.UserID != userID {
			continue
		}
		if latest == nil || !rec.CheckInAt.Before(latest.CheckInAt) {
			latest = &rec
		}
	}
	return latest, nil
}

// ListRecords returns matching records, newest check-in first.
func (r *Repository) ListRecords(_ context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Record, 0, len(r.records))
	for _, rec := range r.records {
		if filter.UserID != 0 && rec.UserID != filter.UserID {
			continue
		}
		if !filter.From.IsZero() && rec.CheckInAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.CheckInAt.After(filter.To) {
			continue
		}
		if !filter.After.Before(rec) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckInAt.Equal(out[j].CheckInAt) {
			return out[i].CheckInAt.After(out[j].CheckInAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RevokeToken records tokenID as revoked and forgets expired entries.
func (r *Repository) RevokeToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, exp := range r.revoked {
		if exp.Before(now) {
			delete(r.revoked, id)
		}
	}
	r.revoked[tokenID] = expiresAt
	return nil
}

// IsRevoked implements domain.Repository.
func (r *Repository) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.revoked[tokenID]
	return ok, nil
}

func (r *Repository) activeIndex(userID int64) int {
	for i, rec := range r.records {
		if rec.UserID == userID && rec.Open() {
			return i
		}
	}
	return -1
}
