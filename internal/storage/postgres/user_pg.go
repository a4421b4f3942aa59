package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/msaadg/custom-gpt/internal/model"
)

// ErrUserNotFound is returned when no user row matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// GetOrCreateUser returns the user row for email, creating it on first login.
// The insert is ON CONFLICT DO NOTHING against the unique email constraint,
// so two concurrent first logins for the same email resolve to a single row:
// the losing insert is a no-op and the following select observes the winner.
func (s *Storage) GetOrCreateUser(ctx context.Context, email string) (*model.User, error) {
	_, err := s.DB.Exec(ctx,
		`INSERT INTO users (id, email, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`,
		uuid.New(), email, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT id, email, created_at, request_count, last_login, paid_until
		 FROM users
		 WHERE email = $1`,
		email)
	return scanUser(row)
}

func (s *Storage) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT id, email, created_at, request_count, last_login, paid_until
		 FROM users
		 WHERE id = $1`,
		id)
	return scanUser(row)
}

// RecordAllowedRequest charges one request against the user's quota and
// stamps the login time. The increment happens in the database, not as a
// read-modify-write, so concurrent requests from the same user never lose
// updates.
func (s *Storage) RecordAllowedRequest(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.DB.Exec(ctx,
		`UPDATE users
		 SET request_count = request_count + 1,
		     last_login = $2
		 WHERE id = $1`,
		id, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ExtendPaidUntil moves the paid-until expiry forward, never backward.
// A replayed payment event carrying an older expiry cannot regress an
// entitlement the user already holds.
func (s *Storage) ExtendPaidUntil(ctx context.Context, id uuid.UUID, expiry time.Time) error {
	res, err := s.DB.Exec(ctx,
		`UPDATE users
		 SET paid_until = GREATEST(COALESCE(paid_until, $2), $2)
		 WHERE id = $1`,
		id, expiry.UTC())
	if err != nil {
		return fmt.Errorf("failed to extend paid_until: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.RequestCount, &u.LastLogin, &u.PaidUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}
