package homely

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://sdk.iotiliti.cloud/homely/"

// tokenSafetyMargin is subtracted from the advertised lifetime so a token
// is renewed before the server starts rejecting it.
const tokenSafetyMargin = 60 * time.Second

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Client talks to the Homely REST API. It holds no credentials; callers
// pass the access token per request (see Session).
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	http *resty.Client
	log  Logger
	now  func() time.Time
}

// NewClient creates a client for baseURL. An empty baseURL selects
// DefaultBaseURL; a nil logger discards output.
func NewClient(baseURL string, timeout time.Duration, logger Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = noopLogger{}
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http: httpClient,
		log:  logger,
		now:  time.Now,
	}
}

// Authenticate exchanges credentials for a token.
//
// Parameters:
//   - ctx: Request context
//   - username: Account email
//   - password: Account password
//
// Returns:
//   - Token: Access token, refresh token and computed expiry
//   - error: ErrAuth if the credentials are rejected, ErrHTTP for other
//     failures, ErrDecode for an unusable body
func (c *Client) Authenticate(ctx context.Context, username, password string) (Token, error) {
	const op = "requesting token"
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(tokenRequest{Username: username, Password: password}).
		Post("/oauth/token")
	if err != nil {
		return Token{}, fmt.Errorf("%w: %s: %w", ErrHTTP, op, err)
	}
	if err := checkStatus(op, resp.StatusCode()); err != nil {
		return Token{}, err
	}
	c.log.Debug("token fetch successful")
	return c.decodeToken(resp.Body(), "")
}

// Refresh renews a token. The returned token keeps refreshToken when the
// response carries no new one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	const op = "refreshing token"
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post("/oauth/refresh-token")
	if err != nil {
		return Token{}, fmt.Errorf("%w: %s: %w", ErrHTTP, op, err)
	}
	if err := checkStatus(op, resp.StatusCode()); err != nil {
		return Token{}, err
	}
	c.log.Debug("token refresh successful")
	return c.decodeToken(resp.Body(), refreshToken)
}

// Locations lists the locations the account can access.
func (c *Client) Locations(ctx context.Context, accessToken string) ([]Location, error) {
	const op = "listing locations"
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Get("/locations")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHTTP, op, err)
	}
	if err := checkStatus(op, resp.StatusCode()); err != nil {
		return nil, err
	}

	var locations []Location
	if err := json.Unmarshal(resp.Body(), &locations); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, op, err)
	}
	return locations, nil
}

// ResolveLocation picks the location at index from the account's list.
func (c *Client) ResolveLocation(ctx context.Context, accessToken string, index int) (Location, error) {
	locations, err := c.Locations(ctx, accessToken)
	if err != nil {
		return Location{}, err
	}
	return SelectLocation(locations, index)
}

// SelectLocation returns locations[index].
func SelectLocation(locations []Location, index int) (Location, error) {
	if index < 0 || index >= len(locations) {
		return Location{}, fmt.Errorf("%w: index %d, %d location(s) available", ErrLocationIndex, index, len(locations))
	}
	loc := locations[index]
	if loc.LocationID == "" {
		return Location{}, fmt.Errorf("%w: location %d has no locationId", ErrDecode, index)
	}
	return loc, nil
}

// checkStatus maps a response status to the error taxonomy. 200 and 201
// are success; 400, 401 and 403 mean the credentials or token were refused.
func checkStatus(op string, code int) error {
	switch code {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return &StatusError{Op: op, StatusCode: code, auth: true}
	default:
		return &StatusError{Op: op, StatusCode: code}
	}
}

func (c *Client) decodeToken(body []byte, previousRefresh string) (Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("%w: token response: %w", ErrDecode, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: token response missing access_token", ErrDecode)
	}

	var expiresAt time.Time
	if tr.ExpiresIn > 0 {
		expiresAt = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSafetyMargin)
	} else {
		exp, err := jwtExpiry(tr.AccessToken)
		if err != nil {
			return Token{}, fmt.Errorf("%w: token response missing expires_in: %w", ErrDecode, err)
		}
		expiresAt = exp.Add(-tokenSafetyMargin)
	}

	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return Token{AccessToken: tr.AccessToken, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// is only ever sent back to the server that issued it.
func jwtExpiry(accessToken string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
