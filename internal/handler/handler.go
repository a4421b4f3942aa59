package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/msaadg/custom-gpt/internal/config"
	"github.com/msaadg/custom-gpt/internal/model"
	"github.com/msaadg/custom-gpt/internal/service"
	"github.com/msaadg/custom-gpt/internal/storage/postgres"
)

const (
	sessionCookieName = "token"
	// Client-side hint only; server-side verification does not expire tokens.
	sessionCookieMaxAge = 24 * 60 * 60

	userIDKey = "user_id"
)

// IdentityProvider is the OAuth boundary the handler talks to.
type IdentityProvider interface {
	SignInURL(ctx context.Context) (string, error)
	ConsumeState(ctx context.Context, state string) (bool, error)
	ExchangeAndIdentify(ctx context.Context, code string) (string, error)
}

// UserDirectory resolves an identity-provider email to a ledger row.
type UserDirectory interface {
	GetOrCreateUser(ctx context.Context, email string) (*model.User, error)
}

type Handler struct {
	cfg      *config.Config
	identity IdentityProvider
	tokens   *service.TokenService
	users    UserDirectory
	access   *service.AccessService
	payments *service.PaymentService
	log      *slog.Logger
}

func NewHandler(cfg *config.Config, identity IdentityProvider, tokens *service.TokenService, users UserDirectory, access *service.AccessService, payments *service.PaymentService, log *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		identity: identity,
		tokens:   tokens,
		users:    users,
		access:   access,
		payments: payments,
		log:      log,
	}
}

// OAuthCallback completes the identity-provider exchange, creates the user's
// ledger row on first login, sets the session cookie and redirects to the
// landing page.
func (h *Handler) OAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "missing authorization code"})
		return
	}

	// Every sign-in URL carries a state nonce; a callback without one did
	// not come from our flow. A state-store failure rejects rather than
	// waving the callback through unchecked.
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "missing state"})
		return
	}
	ok, err := h.identity.ConsumeState(ctx, state)
	if err != nil {
		h.log.Error("state lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "state validation unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "unknown or expired state"})
		return
	}

	email, err := h.identity.ExchangeAndIdentify(ctx, code)
	if err != nil {
		h.log.Error("identity exchange failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": err.Error()})
		return
	}

	user, err := h.users.GetOrCreateUser(ctx, email)
	if err != nil {
		h.log.Error("get or create user failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "could not load user"})
		return
	}

	token, err := h.tokens.IssueSessionToken(user.ID)
	if err != nil {
		h.log.Error("session token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed", "details": "could not issue session"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookieName, token, sessionCookieMaxAge, "/", "", true, true)
	c.Redirect(http.StatusFound, h.cfg.LandingURL)
}

// Webhook receives payment-provider completion events. Signature failures
// are rejected before any state changes.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable payload"})
		return
	}

	err = h.payments.HandleCompletionEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}
		h.log.Error("webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// AuthMiddleware authenticates the session cookie and injects the verified
// user ID into the request context. Unauthenticated responses carry a
// sign-in URL so the client can start a fresh login.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := c.Cookie(sessionCookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token", "signInUrl": h.signInURL(c.Request.Context())})
			return
		}

		userID, err := h.tokens.VerifySessionToken(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "signInUrl": h.signInURL(c.Request.Context())})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// Protected is the gated resource. Over-quota users without an active pass
// get a checkout redirect target; the status stays 200 for client
// compatibility.
func (h *Handler) Protected(c *gin.Context) {
	userID := c.MustGet(userIDKey).(uuid.UUID)

	result, err := h.access.Authorize(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.log.Error("authorization failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if result.Allowed {
		c.JSON(http.StatusOK, gin.H{"message": "Access granted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": "Payment required", "stripeSessionUrl": result.CheckoutURL})
}

// PaymentStatus reports the state of one of the caller's payments, so the
// checkout success page can poll until the completion webhook lands.
func (h *Handler) PaymentStatus(c *gin.Context) {
	userID := c.MustGet(userIDKey).(uuid.UUID)

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment id"})
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), userID, paymentID)
	if err != nil {
		if errors.Is(err, postgres.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		h.log.Error("payment lookup failed", "user_id", userID, "payment_id", paymentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": payment.ID, "status": payment.Status})
}

func (h *Handler) signInURL(ctx context.Context) string {
	url, err := h.identity.SignInURL(ctx)
	if err != nil {
		h.log.Error("sign-in url generation failed", "error", err)
		return ""
	}
	return url
}
