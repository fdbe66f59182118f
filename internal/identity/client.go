// Package identity implements the client for the parcelview identity API:
// the auth operations themselves plus the transport that keeps every other
// API call authenticated, refreshing the token pair at most once when a
// request comes back 401.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/parcelview/parcelview-client/internal/config"
	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"github.com/parcelview/parcelview-client/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client performs identity API operations and generic authenticated
// requests against the parcelview API.
type Client struct {
	http     *http.Client
	cfg      *config.APIConfig
	tokens   *store.TokenStore
	deviceID string

	// refreshMu serializes refresh attempts so two interleaved 401s
	// cannot overwrite a newer token pair with an older one.
	refreshMu sync.Mutex

	hookMu    sync.Mutex
	onExpired func()
}

type ClientParams struct {
	fx.In

	Config *config.APIConfig
	Tokens *store.TokenStore
}

// NewClient creates a new identity API client.
func NewClient(params ClientParams) *Client {
	return &Client{
		http: &http.Client{
			Timeout: params.Config.Timeout,
		},
		cfg:      params.Config,
		tokens:   params.Tokens,
		deviceID: uuid.NewString(),
	}
}

// OnSessionExpired registers the hook invoked when a refresh attempt
// fails and the stored tokens have been cleared. The session manager uses
// it to force a logout from a background call.
func (c *Client) OnSessionExpired(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onExpired = fn
}

func (c *Client) fireSessionExpired() {
	c.hookMu.Lock()
	fn := c.onExpired
	c.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Do issues an authenticated request against the API and decodes the
// envelope data into out (which may be nil). Resource modules (properties,
// documents, images) go through this entry point and inherit the
// retry-once-on-401 behavior.
func (c *Client) Do(ctx context.Context, method, path string, payload, out any) error {
	return c.do(ctx, method, path, payload, out, true)
}

// do executes one logical request. When retryAuth is set and the server
// answers 401, the client refreshes the token pair and re-issues the
// request exactly once; a 401 on the retried attempt is surfaced as-is.
func (c *Client) do(ctx context.Context, method, path string, payload, out any, retryAuth bool) error {
	retried := false
	for {
		access, _ := c.tokens.AccessToken()

		resp, body, err := c.send(ctx, method, path, payload, access)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && retryAuth && !retried {
			retried = true

			refresh, ok := c.tokens.RefreshToken()
			if !ok {
				// Nothing to refresh with, surface the original failure
				return decodeFailure(resp.StatusCode, body)
			}

			if _, err := c.refresh(ctx, access, refresh); err != nil {
				return err
			}
			continue
		}

		return decodeEnvelope(resp.StatusCode, body, out)
	}
}

// send builds and executes a single HTTP request, returning the raw
// response and its fully-read body.
func (c *Client) send(ctx context.Context, method, path string, payload any, access string) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Device-Id", c.deviceID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// A missing access token is not an error here; the server decides
	// whether the route needs one.
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp, bodyBytes, nil
}

// refresh exchanges the refresh token for a fresh pair and saves it.
// staleAccess is the access token that just got rejected; if another
// caller already refreshed past it, the stored pair is reused instead of
// hitting the server again. On refresh failure the token store is
// cleared and the session-expired hook fires.
func (c *Client) refresh(ctx context.Context, staleAccess, refreshToken string) (*models.TokenPair, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if current, ok := c.tokens.AccessToken(); ok && current != staleAccess {
		pair, err := c.tokens.Load(ctx)
		if err == nil && pair != nil {
			return pair, nil
		}
	}

	var pair models.TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh-token", map[string]string{
		"refresh_token": refreshToken,
	}, &pair, false)
	if err != nil {
		logger.Warn("token refresh failed, clearing session", zap.Error(err))
		if clearErr := c.tokens.Clear(ctx); clearErr != nil {
			logger.Error("failed to clear token store", zap.Error(clearErr))
		}
		c.fireSessionExpired()
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	if err := c.tokens.Save(ctx, pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// decodeEnvelope unwraps the server envelope, decoding data into out on
// success and mapping failure to an APIError.
func decodeEnvelope(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 400 {
			return &APIError{Status: status, Message: http.StatusText(status)}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if status >= 400 || !env.Success {
		return &APIError{
			Status:      status,
			Message:     env.Message,
			LockedUntil: env.LockedUntil,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// decodeFailure maps a failed response to an APIError without expecting
// any data payload.
func decodeFailure(status int, body []byte) error {
	return decodeEnvelope(status, body, nil)
}
