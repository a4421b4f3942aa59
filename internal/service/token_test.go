package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret")
	userID := uuid.New()

	token, err := svc.IssueSessionToken(userID)
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	// Verification is idempotent: same token, same identity, every time.
	for i := 0; i < 2; i++ {
		got, err := svc.VerifySessionToken(token)
		if err != nil {
			t.Fatalf("VerifySessionToken() error = %v", err)
		}
		if got != userID {
			t.Errorf("VerifySessionToken() = %v, want %v", got, userID)
		}
	}
}

func TestVerifySessionTokenRejectsTampering(t *testing.T) {
	svc := NewTokenService("test-secret")
	token, err := svc.IssueSessionToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	tests := []struct {
		name  string
		token string
	}{
		{"tampered payload", parts[0] + "." + flipChar(parts[1]) + "." + parts[2]},
		{"tampered signature", parts[0] + "." + parts[1] + "." + flipChar(parts[2])},
		{"truncated", parts[0] + "." + parts[1]},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.VerifySessionToken(tt.token); !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("error = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestVerifySessionTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewTokenService("secret-a")
	verifier := NewTokenService("secret-b")

	token, err := issuer.IssueSessionToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}
	if _, err := verifier.VerifySessionToken(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("error = %v, want ErrInvalidCredential", err)
	}
}

func flipChar(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
