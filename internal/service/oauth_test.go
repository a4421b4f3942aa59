package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

type fakeStateStore struct {
	saved map[string]bool
}

func (f *fakeStateStore) SaveOAuthState(_ context.Context, state string) error {
	if f.saved == nil {
		f.saved = make(map[string]bool)
	}
	f.saved[state] = true
	return nil
}

func (f *fakeStateStore) ConsumeOAuthState(_ context.Context, state string) (bool, error) {
	if !f.saved[state] {
		return false, nil
	}
	delete(f.saved, state)
	return true, nil
}

// fakeProvider serves the token and userinfo endpoints of the identity
// provider.
func fakeProvider(t *testing.T, tokenStatus, userInfoStatus int, userInfoBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-access-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if userInfoStatus != http.StatusOK {
			w.WriteHeader(userInfoStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userInfoBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuthService(t *testing.T, srv *httptest.Server, states StateStore) *OAuthService {
	t.Helper()
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example/oauth/callback",
		Scopes:       []string{"email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/auth",
			TokenURL: srv.URL + "/token",
		},
	}
	svc := NewOAuthService(cfg, states)
	svc.userInfoURL = srv.URL + "/userinfo"
	return svc
}

func TestExchangeAndIdentify(t *testing.T) {
	srv := fakeProvider(t, http.StatusOK, http.StatusOK, `{"id":"123","email":"user@example.com","verified_email":true}`)
	svc := newTestOAuthService(t, srv, &fakeStateStore{})

	email, err := svc.ExchangeAndIdentify(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeAndIdentify() error = %v", err)
	}
	if email != "user@example.com" {
		t.Errorf("email = %q, want %q", email, "user@example.com")
	}
}

func TestExchangeAndIdentifyFailures(t *testing.T) {
	tests := []struct {
		name           string
		tokenStatus    int
		userInfoStatus int
		userInfoBody   string
	}{
		{"token exchange fails", http.StatusBadRequest, http.StatusOK, `{}`},
		{"userinfo fails", http.StatusOK, http.StatusInternalServerError, ``},
		{"userinfo has no email", http.StatusOK, http.StatusOK, `{"id":"123"}`},
		{"userinfo not json", http.StatusOK, http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeProvider(t, tt.tokenStatus, tt.userInfoStatus, tt.userInfoBody)
			svc := newTestOAuthService(t, srv, &fakeStateStore{})

			_, err := svc.ExchangeAndIdentify(context.Background(), "auth-code")
			if !errors.Is(err, ErrUpstreamAuth) {
				t.Errorf("error = %v, want ErrUpstreamAuth", err)
			}
		})
	}
}

func TestSignInURLCarriesStoredState(t *testing.T) {
	srv := fakeProvider(t, http.StatusOK, http.StatusOK, `{}`)
	states := &fakeStateStore{}
	svc := newTestOAuthService(t, srv, states)

	signInURL, err := svc.SignInURL(context.Background())
	if err != nil {
		t.Fatalf("SignInURL() error = %v", err)
	}
	if !strings.HasPrefix(signInURL, srv.URL+"/auth") {
		t.Errorf("sign-in url %q does not target the auth endpoint", signInURL)
	}

	parsed, err := url.Parse(signInURL)
	if err != nil {
		t.Fatalf("parse sign-in url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("sign-in url has no state")
	}
	if !states.saved[state] {
		t.Error("state was not persisted")
	}

	// The nonce validates once, then it is gone.
	ok, err := svc.ConsumeState(context.Background(), state)
	if err != nil || !ok {
		t.Fatalf("ConsumeState() = %v, %v, want true, nil", ok, err)
	}
	ok, err = svc.ConsumeState(context.Background(), state)
	if err != nil || ok {
		t.Errorf("ConsumeState() second call = %v, %v, want false, nil", ok, err)
	}
}
