package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/msaadg/custom-gpt/internal/config"
)

// ErrUpstreamAuth is returned when the identity provider exchange or the
// userinfo fetch fails.
var ErrUpstreamAuth = errors.New("identity provider request failed")

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

func NewGoogleOAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email"},
		Endpoint:     google.Endpoint,
	}
}

// StateStore persists login nonces between the sign-in redirect and the
// provider callback.
type StateStore interface {
	SaveOAuthState(ctx context.Context, state string) error
	ConsumeOAuthState(ctx context.Context, state string) (bool, error)
}

type OAuthService struct {
	oauthConfig *oauth2.Config
	states      StateStore
	userInfoURL string
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Picture       string `json:"picture"`
}

func NewOAuthService(oauthConfig *oauth2.Config, states StateStore) *OAuthService {
	return &OAuthService{
		oauthConfig: oauthConfig,
		states:      states,
		userInfoURL: googleUserInfoURL,
	}
}

// SignInURL builds the provider authorization URL with a fresh state nonce.
func (s *OAuthService) SignInURL(ctx context.Context) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}
	if err := s.states.SaveOAuthState(ctx, state); err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}
	return s.oauthConfig.AuthCodeURL(state), nil
}

// ConsumeState validates and invalidates a callback's state nonce.
func (s *OAuthService) ConsumeState(ctx context.Context, state string) (bool, error) {
	return s.states.ConsumeOAuthState(ctx, state)
}

// ExchangeAndIdentify swaps the authorization code for an access token and
// resolves the account's email via the userinfo endpoint.
func (s *OAuthService) ExchangeAndIdentify(ctx context.Context, code string) (string, error) {
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: code exchange: %v", ErrUpstreamAuth, err)
	}

	client := s.oauthConfig.Client(ctx, token)
	resp, err := client.Get(s.userInfoURL)
	if err != nil {
		return "", fmt.Errorf("%w: userinfo fetch: %v", ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: userinfo status %d", ErrUpstreamAuth, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decode userinfo: %v", ErrUpstreamAuth, err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("%w: userinfo has no email", ErrUpstreamAuth)
	}
	return info.Email, nil
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
