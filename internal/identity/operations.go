package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"go.uber.org/zap"
)

// loginData is the login response payload. The server either issues a
// session or reports that the account still needs email verification.
type loginData struct {
	VerificationRequired bool                `json:"verification_required"`
	User                 *models.UserProfile `json:"user"`
	Tokens               *models.TokenPair   `json:"tokens"`
}

// Login authenticates with email and password. When the server reports
// the account as unverified the result carries VerificationRequired
// instead of a session; that outcome is not an error.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var data loginData
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &data, false)
	if err != nil {
		return nil, err
	}

	if data.VerificationRequired {
		return &LoginResult{
			VerificationRequired: true,
			Email:                email,
		}, nil
	}

	if data.User == nil || data.Tokens == nil || !data.Tokens.Valid() {
		return nil, fmt.Errorf("login response missing user or tokens")
	}

	return &LoginResult{
		Email: email,
		Session: &models.AuthSession{
			User:   *data.User,
			Tokens: *data.Tokens,
		},
	}, nil
}

// Register creates a new account. The server issues tokens with the
// response but the client discards them: no session exists until the
// email is verified.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.UserProfile, error) {
	var data loginData
	err := c.do(ctx, http.MethodPost, "/auth/register", req, &data, false)
	if err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, fmt.Errorf("register response missing user")
	}
	return data.User, nil
}

// VerifyEmail submits the emailed verification code and returns the
// issued session.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) (*models.AuthSession, error) {
	var session models.AuthSession
	err := c.do(ctx, http.MethodPost, "/auth/verify-email", map[string]string{
		"email": email,
		"code":  code,
	}, &session, false)
	if err != nil {
		return nil, err
	}
	if !session.Tokens.Valid() {
		return nil, fmt.Errorf("verify-email response missing tokens")
	}
	return &session, nil
}

// ResendVerificationCode asks the server to email a fresh code.
func (c *Client) ResendVerificationCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/resend-code", map[string]string{
		"email": email,
	}, nil, false)
}

// SetupPIN configures the re-entry PIN for the authenticated user and
// returns the updated profile. Idempotent per user on the server side.
func (c *Client) SetupPIN(ctx context.Context, pin string) (*models.UserProfile, error) {
	var user models.UserProfile
	err := c.do(ctx, http.MethodPost, "/auth/setup-pin", map[string]string{
		"pin": pin,
	}, &user, true)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidatePIN exchanges a PIN for a fresh token pair on app re-entry.
// Repeated wrong attempts may carry a server lockout window on the
// returned APIError; the client surfaces it without enforcing it.
func (c *Client) ValidatePIN(ctx context.Context, pin, userID string) (*models.TokenPair, error) {
	var pair models.TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/validate-pin", map[string]string{
		"pin":     pin,
		"user_id": userID,
	}, &pair, false)
	if err != nil {
		return nil, err
	}
	if !pair.Valid() {
		return nil, fmt.Errorf("validate-pin response missing tokens")
	}
	return &pair, nil
}

// Refresh exchanges the stored refresh token for a fresh pair and
// persists it.
func (c *Client) Refresh(ctx context.Context) (*models.TokenPair, error) {
	access, _ := c.tokens.AccessToken()
	refresh, ok := c.tokens.RefreshToken()
	if !ok {
		return nil, fmt.Errorf("%w: no refresh token", ErrSessionExpired)
	}
	return c.refresh(ctx, access, refresh)
}

// Logout revokes the session server-side. Best effort: the caller clears
// local state regardless of the outcome, so failures are only logged.
func (c *Client) Logout(ctx context.Context) error {
	refresh, ok := c.tokens.RefreshToken()
	if !ok {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": refresh,
	}, nil, false)
	if err != nil {
		logger.Warn("server-side logout failed", zap.Error(err))
	}
	return err
}
