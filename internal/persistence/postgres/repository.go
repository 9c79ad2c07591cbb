// Package postgres provides Postgres-backed persistence for the reference backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/attendance/internal/domain"
)

const uniqueViolation = "23505"

// Repository implements domain.Repository on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `user_id, email, first_name, last_name, role, password_hash, active, created_at`

// CreateUser inserts user and returns it with its assigned id.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	const stmt = `INSERT INTO users (email, first_name, last_name, role, password_hash, active)
        VALUES ($1,$2,$3,$4,$5,$6) RETURNING user_id, created_at`

	row := r.pool.QueryRow(ctx, stmt, user.Email, user.FirstName, user.LastName, string(user.Role), user.PasswordHash, user.Active)
	if err := row.Scan(&user.ID, &user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return user, nil
}

// FindUserByEmail returns nil when no user matches.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
}

// FindUserByID returns nil when no user matches.
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, id)
}

func (r *Repository) findUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Role, &user.PasswordHash, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// InsertRecord implements domain.Repository. The partial unique index on open
// records turns a concurrent second check-in into ErrAlreadyCheckedIn.
func (r *Repository) InsertRecord(ctx context.Context, record domain.Record) error {
	const stmt = `INSERT INTO attendance_records (record_id, user_id, check_in_at, check_in_lat, check_in_lng, status, hours_worked)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := r.pool.Exec(ctx, stmt,
		record.ID,
		record.UserID,
		record.CheckInAt,
		record.CheckInLat,
		record.CheckInLng,
		string(record.Status),
		record.HoursWorked,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyCheckedIn
	}
	return err
}

// CloseRecord implements domain.Repository.
func (r *Repository) CloseRecord(ctx context.Context, record domain.Record) error {
	const stmt = `UPDATE attendance_records
        SET check_out_at=$2, check_out_lat=$3, check_out_lng=$4, status=$5, hours_worked=$6
        WHERE record_id=$1 AND check_out_at IS NULL`

	tag, err := r.pool.Exec(ctx, stmt,
		record.ID,
		record.CheckOutAt,
		record.CheckOutLat,
		record.CheckOutLng,
		string(record.Status),
		record.HoursWorked,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoActiveCheckIn
	}
	return nil
}

const recordColumns = `record_id::text, user_id, check_in_at, check_in_lat, check_in_lng, check_out_at, check_out_lat, check_out_lng, status, hours_worked`

// ActiveRecord returns the open record of userID, if any.
func (r *Repository) ActiveRecord(ctx context.Context, userID int64) (*domain.Record, error) {
	return r.findRecord(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE user_id=$1 AND check_out_at IS NULL`, userID)
}

// LatestRecord returns the most recent record of userID, if any.
func (r *Repository) LatestRecord(ctx context.Context, userID int64) (*domain.Record, error) {
	return r.findRecord(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE user_id=$1
        ORDER BY check_in_at DESC LIMIT 1`, userID)
}

func (r *Repository) findRecord(ctx context.Context, query string, args ...any) (*domain.Record, error) {
	record, err := scanRecord(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListRecords returns matching records, newest check-in first.
func (r *Repository) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != 0 {
		add("user_id=$%d", filter.UserID)
	}
	if !filter.From.IsZero() {
		add("check_in_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("check_in_at <= $%d", filter.To)
	}
	if filter.After != nil {
		args = append(args, filter.After.CheckInAt, filter.After.ID)
		clauses = append(clauses, fmt.Sprintf("(check_in_at, record_id) < ($%d, $%d::uuid)", len(args)-1, len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY check_in_at DESC, record_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RevokeToken records tokenID as revoked and prunes expired entries.
func (r *Repository) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < now()`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO revoked_tokens (token_id, expires_at) VALUES ($1,$2)
        ON CONFLICT (token_id) DO NOTHING`, tokenID, expiresAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsRevoked implements domain.Repository.
func (r *Repository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id=$1)`, tokenID).Scan(&revoked)
	return revoked, err
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var record domain.Record
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.CheckInAt,
		&record.CheckInLat,
		&record.CheckInLng,
		&record.CheckOutAt,
		&record.CheckOutLat,
		&record.CheckOutLng,
		&record.Status,
		&record.HoursWorked,
	)
	return record, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
