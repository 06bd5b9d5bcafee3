package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

// DefaultRevokeURL is Google's token revocation endpoint
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

var (
	// ErrMissingClientConfig is returned when no OAuth client ID is configured
	ErrMissingClientConfig = errors.New("please enter an OAuth client ID in the configuration first")

	// ErrConsentDenied is returned when the user or the provider refused consent
	ErrConsentDenied = errors.New("consent was not granted")

	// ErrUnknownState is returned for callbacks that match no pending sign-in
	ErrUnknownState = errors.New("unknown or expired sign-in request")
)

// ClientSource supplies the OAuth client credentials; they may change at runtime
type ClientSource interface {
	OAuthClient() (clientID, clientSecret string)
}

// Prompter presents the consent URL to the user
type Prompter interface {
	Prompt(ctx context.Context, authURL string) error
}

// PromptFunc adapts a function to the Prompter interface
type PromptFunc func(ctx context.Context, authURL string) error

// Prompt calls f
func (f PromptFunc) Prompt(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// Option configures a Manager
type Option func(*Manager)

// WithEndpoint overrides the OAuth endpoint (defaults to Google)
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(m *Manager) {
		m.endpoint = endpoint
	}
}

// WithRevokeURL overrides the revocation endpoint
func WithRevokeURL(revokeURL string) Option {
	return func(m *Manager) {
		m.revokeURL = revokeURL
	}
}

// WithHTTPClient sets the client used for token exchange and revocation
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type consentResult struct {
	err error
}

// Manager holds the bearer token for the spreadsheet API.
//
// A token's presence is the only validity signal. Expiry is discovered when a
// remote call answers 401, at which point the caller must Invalidate the token.
type Manager struct {
	clients     ClientSource
	redirectURL string
	endpoint    oauth2.Endpoint
	revokeURL   string
	httpClient  *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	config  *oauth2.Config
	token   *oauth2.Token
	pending map[string]chan consentResult
}

// NewManager creates a signed-out Manager. redirectURL must route to a handler calling Complete.
func NewManager(clients ClientSource, redirectURL string, opts ...Option) *Manager {
	m := &Manager{
		clients:     clients,
		redirectURL: redirectURL,
		endpoint:    google.Endpoint,
		revokeURL:   DefaultRevokeURL,
		httpClient:  http.DefaultClient,
		logger:      slog.Default(),
		pending:     make(map[string]chan consentResult),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// oauthConfigLocked builds the client config on first use and whenever the credentials change
func (m *Manager) oauthConfigLocked() (*oauth2.Config, error) {
	clientID, clientSecret := m.clients.OAuthClient()
	if clientID == "" {
		return nil, ErrMissingClientConfig
	}
	if m.config == nil || m.config.ClientID != clientID || m.config.ClientSecret != clientSecret {
		m.config = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  m.redirectURL,
			Scopes:       []string{sheets.SpreadsheetsScope},
			Endpoint:     m.endpoint,
		}
	}
	return m.config, nil
}

// RequestToken runs the consent flow: it hands the consent URL to prompter and
// waits until Complete is called for this request or ctx is done.
func (m *Manager) RequestToken(ctx context.Context, prompter Prompter) error {
	m.mu.Lock()
	cfg, err := m.oauthConfigLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	state := uuid.NewString()
	done := make(chan consentResult, 1)
	m.pending[state] = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, state)
		m.mu.Unlock()
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "consent"))
	if err := prompter.Prompt(ctx, authURL); err != nil {
		return fmt.Errorf("prompting for consent: %w", err)
	}

	select {
	case res := <-done:
		return res.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for consent: %w", ctx.Err())
	}
}

// Complete finishes the consent flow identified by state. consentErr is the
// error reported by the provider on the redirect, if any.
func (m *Manager) Complete(ctx context.Context, state, code, consentErr string) error {
	// Claiming the request under the lock lets only one callback resolve it
	m.mu.Lock()
	done, ok := m.pending[state]
	delete(m.pending, state)
	cfg := m.config
	m.mu.Unlock()
	if !ok || cfg == nil {
		return ErrUnknownState
	}

	var err error
	switch {
	case consentErr != "":
		err = fmt.Errorf("%w: %s", ErrConsentDenied, consentErr)
	case code == "":
		err = fmt.Errorf("%w: no authorization code", ErrConsentDenied)
	default:
		var token *oauth2.Token
		token, err = cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, m.httpClient), code)
		if err != nil {
			err = fmt.Errorf("exchanging authorization code: %w", err)
		} else {
			m.mu.Lock()
			m.token = token
			m.mu.Unlock()
			m.logger.Info("Signed in to Google")
		}
	}

	done <- consentResult{err: err}
	return err
}

// Revoke signs out immediately and then revokes the token at the provider.
// The manager is signed out even when revocation fails.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	m.token = nil
	m.mu.Unlock()

	if token == nil {
		return nil
	}
	m.logger.Info("Signed out of Google")

	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoking token (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Invalidate drops the token after a remote call reported it unauthorized
func (m *Manager) Invalidate() {
	m.mu.Lock()
	hadToken := m.token != nil
	m.token = nil
	m.mu.Unlock()

	if hadToken {
		m.logger.Warn("Google session expired")
	}
}

// IsAuthorized reports whether a token is held
func (m *Manager) IsAuthorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil
}

// AccessToken returns the bearer token, if any
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return "", false
	}
	return m.token.AccessToken, true
}
