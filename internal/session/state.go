// Package session holds the authoritative in-memory session state and the
// state machine that moves it between the sign-in, verification, PIN and
// authenticated phases. The UI layer only ever reads State and fires the
// trigger methods on Manager; it never touches the stores directly.
package session

import (
	"github.com/parcelview/parcelview-client/internal/models"
)

// Status tags the current session phase.
type Status string

const (
	StatusLoading                  Status = "loading"
	StatusUnauthenticated          Status = "unauthenticated"
	StatusPendingEmailVerification Status = "pending_email_verification"
	StatusPendingPinSetup          Status = "pending_pin_setup"
	StatusPendingPinAuth           Status = "pending_pin_auth"
	StatusAuthenticated            Status = "authenticated"
)

// State is the tagged session state. Which payload fields are set depends
// on the Status: Email accompanies PendingEmailVerification, User
// accompanies the PIN states and Authenticated, Tokens only Authenticated.
type State struct {
	Status Status
	Email  string
	User   *models.UserProfile
	Tokens *models.TokenPair
}

func loading() State {
	return State{Status: StatusLoading}
}

func unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}

func pendingEmailVerification(email string) State {
	return State{Status: StatusPendingEmailVerification, Email: email}
}

func pendingPinSetup(user models.UserProfile) State {
	return State{Status: StatusPendingPinSetup, User: &user}
}

func pendingPinAuth(user models.UserProfile) State {
	return State{Status: StatusPendingPinAuth, User: &user}
}

func authenticated(user models.UserProfile, tokens models.TokenPair) State {
	return State{Status: StatusAuthenticated, User: &user, Tokens: &tokens}
}
