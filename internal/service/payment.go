package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/msaadg/custom-gpt/internal/config"
	"github.com/msaadg/custom-gpt/internal/model"
	"github.com/msaadg/custom-gpt/internal/storage/postgres"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification. No state is mutated on this path.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutIssuer creates provider-hosted checkout sessions. The returned
// session carries the user ID as its client reference so the completion
// event can be correlated back without touching provider account data.
type CheckoutIssuer interface {
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, unitPriceCents int64, successURL, cancelURL string) (sessionID, redirectURL string, err error)
}

// PaymentStore persists payment sessions and paid-until extensions.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *model.Payment) error
	CompletePayment(ctx context.Context, stripeSessionID string) error
	ExtendPaidUntil(ctx context.Context, id uuid.UUID, expiry time.Time) error
	GetPayment(ctx context.Context, userID, paymentID uuid.UUID) (*model.Payment, error)
}

// EventDeduper remembers processed webhook event IDs so provider
// redeliveries are acknowledged without re-processing. UnmarkEvent releases
// a claim when processing fails, so the redelivery is handled again.
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
	UnmarkEvent(ctx context.Context, eventID string) error
}

// StripeIssuer creates Stripe Checkout sessions in payment mode.
type StripeIssuer struct {
	api *client.API
}

func NewStripeIssuer(secretKey string) *StripeIssuer {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeIssuer{api: api}
}

func (s *StripeIssuer) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, unitPriceCents int64, successURL, cancelURL string) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID.String()),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(unitPriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Day pass"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

type PaymentService struct {
	issuer        CheckoutIssuer
	store         PaymentStore
	dedupe        EventDeduper
	webhookSecret string
	priceCents    int64
	successURL    string
	cancelURL     string
	log           *slog.Logger
}

func NewPaymentService(cfg *config.Config, issuer CheckoutIssuer, store PaymentStore, dedupe EventDeduper, log *slog.Logger) *PaymentService {
	return &PaymentService{
		issuer:        issuer,
		store:         store,
		dedupe:        dedupe,
		webhookSecret: cfg.StripeWebhookSecret,
		priceCents:    cfg.UnitPriceCents,
		successURL:    cfg.PaymentSuccessURL,
		cancelURL:     cfg.PaymentCancelURL,
		log:           log,
	}
}

// CreateCheckoutSession opens a checkout for the user and records it as a
// pending payment. Returns the provider-hosted redirect URL.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, userID uuid.UUID) (string, error) {
	sessionID, redirectURL, err := s.issuer.CreateCheckoutSession(ctx, userID, s.priceCents, s.successURL, s.cancelURL)
	if err != nil {
		return "", err
	}

	payment := &model.Payment{
		ID:              uuid.New(),
		UserID:          userID,
		StripeSessionID: sessionID,
		AmountCents:     s.priceCents,
		Status:          model.PaymentStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return "", fmt.Errorf("failed to save payment: %w", err)
	}
	return redirectURL, nil
}

// GetPayment returns one of the user's payments, e.g. for the success page
// to poll while the completion webhook is in flight.
func (s *PaymentService) GetPayment(ctx context.Context, userID, paymentID uuid.UUID) (*model.Payment, error) {
	return s.store.GetPayment(ctx, userID, paymentID)
}

// HandleCompletionEvent verifies a webhook delivery and, for a completed
// checkout, extends the user's paid-until expiry to the start of the next
// day. Verified events referencing unknown users or sessions are logged and
// acknowledged so the provider stops retrying.
func (s *PaymentService) HandleCompletionEvent(ctx context.Context, payload []byte, sigHeader string) error {
	// Accounts can pin a different API version than the SDK; a version
	// mismatch on a correctly signed event is not a reason to reject it.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
		Tolerance:                webhook.DefaultTolerance,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.log.Debug("ignoring webhook event", "type", event.Type, "event_id", event.ID)
		return nil
	}

	first, err := s.dedupe.MarkEventProcessed(ctx, event.ID)
	if err != nil {
		// Dedupe store down: process anyway, paid_until extension is
		// idempotent at the ledger.
		s.log.Warn("event dedupe unavailable", "event_id", event.ID, "error", err)
	} else if !first {
		s.log.Info("acknowledging redelivered event", "event_id", event.ID)
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		s.log.Error("malformed checkout session in verified event", "event_id", event.ID, "error", err)
		return nil
	}

	userID, err := uuid.Parse(sess.ClientReferenceID)
	if err != nil {
		s.log.Error("checkout session has no usable client reference", "event_id", event.ID, "session_id", sess.ID)
		return nil
	}

	expiry := startOfNextDay(time.Now())
	if err := s.store.ExtendPaidUntil(ctx, userID, expiry); err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			s.log.Warn("payment completed for unknown user", "user_id", userID, "event_id", event.ID)
			return nil
		}
		// Release the dedupe claim so the provider's redelivery is
		// processed instead of acknowledged as a duplicate.
		s.unmarkEvent(ctx, event.ID)
		return fmt.Errorf("failed to extend paid_until: %w", err)
	}

	if err := s.store.CompletePayment(ctx, sess.ID); err != nil {
		if errors.Is(err, postgres.ErrPaymentNotFound) {
			s.log.Warn("no pending payment row for session", "session_id", sess.ID)
			return nil
		}
		s.unmarkEvent(ctx, event.ID)
		return fmt.Errorf("failed to complete payment: %w", err)
	}

	s.log.Info("payment completed", "user_id", userID, "session_id", sess.ID, "paid_until", expiry)
	return nil
}

func (s *PaymentService) unmarkEvent(ctx context.Context, eventID string) {
	if err := s.dedupe.UnmarkEvent(ctx, eventID); err != nil {
		s.log.Warn("failed to release event claim", "event_id", eventID, "error", err)
	}
}

// startOfNextDay computes the expiry a completed payment grants: unlimited
// access until the next local midnight after processing.
func startOfNextDay(t time.Time) time.Time {
	return now.With(t).BeginningOfDay().AddDate(0, 0, 1)
}
