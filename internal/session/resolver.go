package session

import (
	"context"

	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"go.uber.org/zap"
)

// Restore reconciles the persisted records into the initial session state.
// It runs once per process start, before anything renders.
//
// Rules:
//   - profile and tokens, PIN configured: the cached tokens are discarded,
//     the PIN challenge is marked durable, and the session waits at the
//     gate. A stale access token must not bypass the PIN after a cold
//     start.
//   - profile and tokens, no PIN: Authenticated directly
//   - profile without tokens, challenge marker present: a previous run
//     already discarded the tokens at the gate; resume PendingPinAuth.
//   - no profile and no tokens, pending-verification email recorded:
//     resume PendingEmailVerification for that address.
//   - no records at all: Unauthenticated
//   - anything else: corrupt session, clear everything, fail closed to
//     Unauthenticated
//
// Storage read errors count as "record absent" and never abort startup.
func (m *Manager) Restore(ctx context.Context) State {
	m.setState(loading())

	pair, err := m.tokens.Load(ctx)
	if err != nil {
		logger.Warn("failed to load tokens on startup", zap.Error(err))
		pair = nil
	}
	user, err := m.sessions.LoadUser(ctx)
	if err != nil {
		logger.Warn("failed to load user profile on startup", zap.Error(err))
		user = nil
	}

	switch {
	case pair != nil && user != nil:
		if user.HasPinSetup {
			// Cached access is untrusted after a cold start; the PIN
			// gate issues fresh tokens on success.
			if err := m.tokens.Clear(ctx); err != nil {
				logger.Error("failed to discard cached tokens", zap.Error(err))
			}
			if err := m.sessions.MarkPinGate(ctx); err != nil {
				logger.Error("failed to mark pin challenge", zap.Error(err))
			}
			m.setState(pendingPinAuth(*user))
		} else {
			m.setState(authenticated(*user, *pair))
		}

	case pair == nil && user != nil && m.pinGateResumable(ctx, user):
		m.setState(pendingPinAuth(*user))

	case pair == nil && user == nil:
		if email := m.pendingEmail(ctx); email != "" {
			m.setState(pendingEmailVerification(email))
		} else {
			m.setState(unauthenticated())
		}

	default:
		// A record without its counterpart is a torn session. Repair by
		// clearing everything rather than guessing.
		logger.Warn("partial session records found, clearing",
			zap.Bool("tokens_present", pair != nil),
			zap.Bool("profile_present", user != nil),
		)
		if err := m.sessions.ClearAll(ctx); err != nil {
			logger.Error("failed to clear partial session", zap.Error(err))
		}
		m.setState(unauthenticated())
	}

	return m.Current()
}

// pinGateResumable reports whether a tokenless profile is a PIN challenge
// left by a previous run rather than a torn session.
func (m *Manager) pinGateResumable(ctx context.Context, user *models.UserProfile) bool {
	if !user.HasPinSetup {
		return false
	}
	marked, err := m.sessions.PinGateMarked(ctx)
	if err != nil {
		logger.Warn("failed to read pin challenge marker", zap.Error(err))
		return false
	}
	return marked
}

// pendingEmail reads a recorded verification address, tolerating read
// errors as "none pending".
func (m *Manager) pendingEmail(ctx context.Context) string {
	email, err := m.sessions.LoadPendingEmail(ctx)
	if err != nil {
		logger.Warn("failed to read pending verification email", zap.Error(err))
		return ""
	}
	return email
}
