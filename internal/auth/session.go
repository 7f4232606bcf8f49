// Package auth holds the credential session used to call the data agent.
//
// A Session is an explicit object owned by whoever constructs it; there is
// no package-level token state. Interactive users sign in with the OAuth2
// device-code flow, service principals with client credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNotAuthenticated is returned when no usable token is held and none can
// be obtained without user interaction.
var ErrNotAuthenticated = errors.New("not authenticated")

// refreshWindow is how close to expiry a token is proactively refreshed.
const refreshWindow = 5 * time.Minute

// Options configures a Session.
type Options struct {
	Authority    string // e.g. https://login.microsoftonline.com
	TenantID     string
	ClientID     string
	ClientSecret string // non-empty selects client credentials
	Scope        string // space-separated
	CachePath    string // token cache file; empty disables caching
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// DeviceCode is what a user needs to finish a device-code sign-in.
type DeviceCode struct {
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Message is the instruction shown to the user.
func (d *DeviceCode) Message() string {
	return fmt.Sprintf("To sign in, open %s and enter the code %s", d.VerificationURI, d.UserCode)
}

// Status summarizes the session for display.
type Status struct {
	Authenticated bool        `json:"authenticated"`
	InProgress    bool        `json:"in_progress"`
	ExpiresAt     time.Time   `json:"expires_at,omitzero"`
	Mode          string      `json:"mode"`
	Pending       *DeviceCode `json:"pending,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
}

// Ready reports whether questions can be asked without signing in first.
// Client-credentials sessions fetch their token on demand.
func (st Status) Ready() bool {
	return st.Authenticated || st.Mode == ModeClientCredentials
}

// Session holds the signed-in user's or service principal's token, refreshing
// it on demand and persisting it to the token cache. It is safe for
// concurrent use.
type Session struct {
	opts   Options
	oauth  *oauth2.Config
	cc     *clientcredentials.Config
	cache  *tokenCache
	logger *slog.Logger

	// startMu serializes StartDeviceLogin so one device flow runs at a time.
	startMu sync.Mutex

	mu      sync.Mutex
	token   *oauth2.Token
	pending *DeviceCode
	lastErr error
}

// NewSession builds a Session and loads any cached token.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimSuffix(opts.Authority, "/") + "/" + opts.TenantID + "/oauth2/v2.0"
	scopes := strings.Fields(opts.Scope)

	s := &Session{
		opts:   opts,
		logger: logger,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       base + "/authorize",
				TokenURL:      base + "/token",
				DeviceAuthURL: base + "/devicecode",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
	}
	if opts.ClientSecret != "" {
		// offline_access is meaningless without a user.
		ccScopes := make([]string, 0, len(scopes))
		for _, sc := range scopes {
			if sc != "offline_access" {
				ccScopes = append(ccScopes, sc)
			}
		}
		s.cc = &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     base + "/token",
			Scopes:       ccScopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}
	if opts.CachePath != "" {
		s.cache = &tokenCache{path: opts.CachePath}
		tok, err := s.cache.load()
		if err != nil {
			logger.Warn("token cache unreadable", "path", opts.CachePath, "error", err)
		} else if tok != nil {
			s.token = tok
		}
	}
	return s
}

// Sign-in modes reported in Status.
const (
	ModeDeviceCode        = "device_code"
	ModeClientCredentials = "client_credentials"
)

func (s *Session) mode() string {
	if s.cc != nil {
		return ModeClientCredentials
	}
	return ModeDeviceCode
}

func (s *Session) ctx(ctx context.Context) context.Context {
	if s.opts.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.opts.HTTPClient)
	}
	return ctx
}

// StartDeviceLogin begins a device-code sign-in and returns the code to show
// the user. The flow completes in the background; poll Status to observe it.
// A sign-in already in progress is returned as is.
func (s *Session) StartDeviceLogin(ctx context.Context) (*DeviceCode, error) {
	if s.cc != nil {
		return nil, fmt.Errorf("device login: session uses client credentials")
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.pending != nil {
		p := *s.pending
		s.mu.Unlock()
		return &p, nil
	}
	s.mu.Unlock()

	da, err := s.oauth.DeviceAuth(s.ctx(ctx))
	if err != nil {
		return nil, fmt.Errorf("start device login: %w", err)
	}
	code := deviceCode(da)

	s.mu.Lock()
	s.pending = code
	s.lastErr = nil
	s.mu.Unlock()

	go func() {
		pollCtx, cancel := context.WithDeadline(context.Background(), code.ExpiresAt)
		defer cancel()
		if _, err := s.completeDeviceLogin(pollCtx, da); err != nil {
			s.logger.Warn("device login failed", "error", err)
		}
	}()

	s.logger.Info("device login started", "verification_uri", code.VerificationURI, "expires_at", code.ExpiresAt)
	return code, nil
}

// Login runs the device-code flow to completion, calling prompt with the
// code before waiting. In client-credentials mode it fetches a token
// directly.
func (s *Session) Login(ctx context.Context, prompt func(*DeviceCode)) error {
	if s.cc != nil {
		_, err := s.Refresh(ctx)
		return err
	}
	da, err := s.oauth.DeviceAuth(s.ctx(ctx))
	if err != nil {
		return fmt.Errorf("start device login: %w", err)
	}
	code := deviceCode(da)
	s.mu.Lock()
	s.pending = code
	s.mu.Unlock()

	if prompt != nil {
		prompt(code)
	}
	_, err = s.completeDeviceLogin(ctx, da)
	return err
}

func (s *Session) completeDeviceLogin(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	tok, err := s.oauth.DeviceAccessToken(s.ctx(ctx), da)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if err != nil {
		s.lastErr = err
		return nil, fmt.Errorf("complete device login: %w", err)
	}
	s.setTokenLocked(tok)
	s.logger.Info("device login completed", "expires_at", tok.Expiry)
	return tok, nil
}

func deviceCode(da *oauth2.DeviceAuthResponse) *DeviceCode {
	uri := da.VerificationURI
	if uri == "" {
		uri = da.VerificationURIComplete
	}
	expires := da.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(15 * time.Minute)
	}
	return &DeviceCode{UserCode: da.UserCode, VerificationURI: uri, ExpiresAt: expires}
}

// Token returns the current token, refreshing it when it expires within five
// minutes.
func (s *Session) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok != nil && tok.AccessToken != "" && (tok.Expiry.IsZero() || time.Until(tok.Expiry) > refreshWindow) {
		return tok, nil
	}
	return s.Refresh(ctx)
}

// AccessToken returns a bearer token for API calls.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Refresh always obtains a new token: from client credentials, or by
// redeeming the held refresh token.
func (s *Session) Refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.cc != nil {
		tok, err := s.cc.Token(s.ctx(ctx))
		if err != nil {
			s.fail(err)
			return nil, fmt.Errorf("client credentials token: %w", err)
		}
		s.mu.Lock()
		s.setTokenLocked(tok)
		s.mu.Unlock()
		return tok, nil
	}

	s.mu.Lock()
	var refresh string
	if s.token != nil {
		refresh = s.token.RefreshToken
	}
	s.mu.Unlock()
	if refresh == "" {
		return nil, ErrNotAuthenticated
	}

	// A seed without an access token forces a round trip.
	seed := &oauth2.Token{RefreshToken: refresh}
	tok, err := s.oauth.TokenSource(s.ctx(ctx), seed).Token()
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	s.mu.Lock()
	s.setTokenLocked(tok)
	s.mu.Unlock()
	s.logger.Debug("token refreshed", "expires_at", tok.Expiry)
	return tok, nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) setTokenLocked(tok *oauth2.Token) {
	if tok.RefreshToken == "" && s.token != nil {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = tok
	s.lastErr = nil
	if s.cache != nil {
		if err := s.cache.save(tok); err != nil {
			s.logger.Warn("token cache write failed", "path", s.cache.path, "error", err)
		}
	}
}

// Status reports whether a usable token is held and whether a device login
// is in progress.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Mode: s.mode()}
	if s.token != nil && s.token.AccessToken != "" {
		st.ExpiresAt = s.token.Expiry
		// An expired token still counts while it can be refreshed.
		st.Authenticated = s.token.Valid() || s.token.RefreshToken != ""
	}
	if s.pending != nil {
		p := *s.pending
		st.InProgress = true
		st.Pending = &p
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Logout drops the held token and removes the cache file.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	s.pending = nil
	if s.cache != nil {
		return s.cache.clear()
	}
	return nil
}
