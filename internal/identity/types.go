package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parcelview/parcelview-client/internal/models"
)

// ErrSessionExpired is returned when a 401 could not be recovered by the
// refresh flow. The registered session-expired hook fires alongside it.
var ErrSessionExpired = errors.New("session expired")

// APIError is a failure reported by the server envelope or by an HTTP
// error status. Message is suitable for direct display.
type APIError struct {
	Status      int
	Message     string
	LockedUntil *time.Time
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// envelope is the uniform response wrapper the server uses for every
// operation.
type envelope struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// LoginResult is the outcome of a login attempt. VerificationRequired is
// a normal outcome, not an error: the account exists but the email has
// not been verified yet, so no session is issued.
type LoginResult struct {
	VerificationRequired bool
	Email                string
	Session              *models.AuthSession
}
