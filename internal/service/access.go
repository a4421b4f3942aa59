package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/msaadg/custom-gpt/internal/model"
)

// FreeQuota is the number of requests a user may make before payment is
// required. The counter never resets; once exhausted, access requires an
// active paid-until window.
const FreeQuota = 4

type Decision int

const (
	DecisionAllow Decision = iota
	DecisionRequirePayment
)

// Decide is the pure access rule over a user snapshot and the current time.
// A user under quota is allowed even when a paid pass is also active.
func Decide(u *model.User, now time.Time) Decision {
	if u.RequestCount < FreeQuota {
		return DecisionAllow
	}
	if u.HasActivePass(now) {
		return DecisionAllow
	}
	return DecisionRequirePayment
}

// Ledger is the per-user usage record the decision runs against.
type Ledger interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	RecordAllowedRequest(ctx context.Context, id uuid.UUID, now time.Time) error
}

// AccessResult carries the outcome of an authorization. When Allowed is
// false, CheckoutURL points at a payment session for the user.
type AccessResult struct {
	Allowed     bool
	CheckoutURL string
}

type AccessService struct {
	ledger   Ledger
	payments *PaymentService
}

func NewAccessService(ledger Ledger, payments *PaymentService) *AccessService {
	return &AccessService{ledger: ledger, payments: payments}
}

// Authorize loads the user's ledger row and applies the access rule.
// An allowed request is charged against the quota exactly once, before the
// caller reports success. A payment-required outcome mutates nothing.
func (s *AccessService) Authorize(ctx context.Context, userID uuid.UUID) (*AccessResult, error) {
	user, err := s.ledger.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if Decide(user, now) == DecisionAllow {
		if err := s.ledger.RecordAllowedRequest(ctx, user.ID, now); err != nil {
			return nil, fmt.Errorf("failed to record allowed request: %w", err)
		}
		return &AccessResult{Allowed: true}, nil
	}

	checkoutURL, err := s.payments.CreateCheckoutSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &AccessResult{Allowed: false, CheckoutURL: checkoutURL}, nil
}
