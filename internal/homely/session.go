package homely

import (
	"context"
	"errors"
	"sync"
)

// Session keeps a valid access token for one account.
//
// Token renews the token when it has expired, using the refresh token
// first and falling back to the stored credentials when the refresh token
// is rejected. Concurrent callers share a single renewal.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	client   *Client
	username string
	password string
	log      Logger

	mu       sync.Mutex
	token    Token
	onChange []func(accessToken string)
}

// NewSession creates a session. No request is made until Login or Token.
func NewSession(client *Client, username, password string, logger Logger) *Session {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		client:   client,
		username: username,
		password: password,
		log:      logger,
	}
}

// OnTokenChange registers fn to be called with every newly obtained access
// token. Callbacks run on the goroutine that triggered the renewal.
func (s *Session) OnTokenChange(fn func(accessToken string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Login authenticates with the stored credentials unconditionally.
// At startup an ErrAuth result is fatal.
func (s *Session) Login(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok, err := s.client.Authenticate(ctx, s.username, s.password)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.token = tok
	callbacks := s.callbacks()
	s.mu.Unlock()

	s.notify(callbacks, tok.AccessToken)
	return tok.AccessToken, nil
}

// Token returns a usable access token, renewing it if needed.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token.Valid(s.client.now()) {
		access := s.token.AccessToken
		s.mu.Unlock()
		return access, nil
	}

	tok, err := s.renew(ctx)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.token = tok
	callbacks := s.callbacks()
	s.mu.Unlock()

	s.notify(callbacks, tok.AccessToken)
	return tok.AccessToken, nil
}

// Invalidate forgets the access token so the next Token call renews it.
// Callers use it after a request fails with ErrAuth.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token.AccessToken = ""
	s.mu.Unlock()
}

// renew must be called with mu held.
func (s *Session) renew(ctx context.Context) (Token, error) {
	if s.token.RefreshToken != "" {
		s.log.Debug("token expired, refreshing")
		tok, err := s.client.Refresh(ctx, s.token.RefreshToken)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrAuth) && !errors.Is(err, ErrDecode) {
			return Token{}, err
		}
		s.log.Warn("token refresh rejected, re-authenticating", "error", err)
	}
	return s.client.Authenticate(ctx, s.username, s.password)
}

func (s *Session) callbacks() []func(string) {
	return append([]func(string){}, s.onChange...)
}

func (s *Session) notify(callbacks []func(string), accessToken string) {
	for _, fn := range callbacks {
		fn(accessToken)
	}
}
