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

// ErrPaymentNotFound is returned when no payment row matches the lookup.
var ErrPaymentNotFound = errors.New("payment not found")

func (s *Storage) CreatePayment(ctx context.Context, payment *model.Payment) error {
	_, err := s.DB.Exec(ctx,
		`INSERT INTO payments (id, user_id, stripe_session_id, amount_cents, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		payment.ID, payment.UserID, payment.StripeSessionID,
		payment.AmountCents, payment.Status, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// CompletePayment marks the checkout session's payment row completed.
// Completed is terminal; a row already completed stays completed.
func (s *Storage) CompletePayment(ctx context.Context, stripeSessionID string) error {
	res, err := s.DB.Exec(ctx,
		`UPDATE payments
		 SET status = $1, updated_at = $2
		 WHERE stripe_session_id = $3`,
		model.PaymentStatusCompleted, time.Now().UTC(), stripeSessionID)
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// GetPayment looks up a payment by ID, scoped to its owner.
func (s *Storage) GetPayment(ctx context.Context, userID, paymentID uuid.UUID) (*model.Payment, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT id, user_id, stripe_session_id, amount_cents, status, created_at, updated_at
		 FROM payments
		 WHERE id = $1 AND user_id = $2`,
		paymentID, userID)

	var p model.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.StripeSessionID, &p.AmountCents,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return &p, nil
}
