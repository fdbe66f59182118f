// Package models defines the data types shared between the identity API
// client, the persistence layer and the session state machine.
package models

// TokenPair holds the access/refresh token pair issued by the identity API.
// A pair with either field empty is invalid and must be treated as absent.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether both tokens are present.
func (p TokenPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// UserProfile is the server-issued user record. It is persisted as a whole
// on every auth-producing operation and never patched field by field.
type UserProfile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	HasPinSetup   bool   `json:"has_pin_setup"`
}

// AuthSession groups the profile and tokens returned by an auth-producing
// API operation (login, verify-email).
type AuthSession struct {
	User   UserProfile `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}
