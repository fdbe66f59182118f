package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"go.uber.org/zap"
)

// SessionStore persists the authenticated user profile and offers the
// transactional session write that keeps the profile and the token pair
// from ever being torn apart by a partial failure.
type SessionStore struct {
	store  *Store
	tokens *TokenStore
}

// NewSessionStore creates a SessionStore sharing the database with the
// given TokenStore.
func NewSessionStore(store *Store, tokens *TokenStore) *SessionStore {
	return &SessionStore{
		store:  store,
		tokens: tokens,
	}
}

// LoadUser returns the persisted user profile, or nil when absent.
func (s *SessionStore) LoadUser(ctx context.Context) (*models.UserProfile, error) {
	value, ok, err := s.store.get(ctx, keyUser)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var user models.UserProfile
	if err := json.Unmarshal(value, &user); err != nil {
		logger.Warn("discarding unreadable user record", zap.Error(err))
		return nil, nil
	}
	return &user, nil
}

// SaveUser overwrites the persisted user profile. Profiles are always
// replaced whole, never merged.
func (s *SessionStore) SaveUser(ctx context.Context, user models.UserProfile) error {
	value, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user profile: %w", err)
	}
	return s.store.put(ctx, keyUser, value)
}

// SaveSession writes the user profile and token pair in one transaction:
// both records land or neither does. The token cache is updated only
// after the commit.
func (s *SessionStore) SaveSession(ctx context.Context, user models.UserProfile, pair models.TokenPair) error {
	if !pair.Valid() {
		return fmt.Errorf("refusing to save session with partial token pair")
	}

	userValue, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user profile: %w", err)
	}
	tokenValue, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode token pair: %w", err)
	}

	err = s.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := txPut(ctx, tx, keyUser, userValue); err != nil {
			return err
		}
		if err := txPut(ctx, tx, keyTokens, tokenValue); err != nil {
			return err
		}
		// A completed sign-in supersedes any flow markers left behind.
		if err := txDelete(ctx, tx, keyPendingEmail); err != nil {
			return err
		}
		return txDelete(ctx, tx, keyPinGate)
	})
	if err != nil {
		return err
	}

	s.tokens.applyCached(&pair)
	return nil
}

// ClearAll removes the profile, the token pair and any flow markers
// together. Used by logout and by the startup repair of partial
// sessions.
func (s *SessionStore) ClearAll(ctx context.Context) error {
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range []string{keyUser, keyTokens, keyPendingEmail, keyPinGate} {
			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.tokens.applyCached(nil)
	return nil
}

// SavePendingEmail records the address waiting on a verification code so
// a later run can pick the flow back up.
func (s *SessionStore) SavePendingEmail(ctx context.Context, email string) error {
	return s.store.put(ctx, keyPendingEmail, []byte(email))
}

// LoadPendingEmail returns the recorded address, or "" when none is
// pending.
func (s *SessionStore) LoadPendingEmail(ctx context.Context) (string, error) {
	value, ok, err := s.store.get(ctx, keyPendingEmail)
	if err != nil || !ok {
		return "", err
	}
	return string(value), nil
}

// ClearPendingEmail drops the recorded address.
func (s *SessionStore) ClearPendingEmail(ctx context.Context) error {
	return s.store.delete(ctx, keyPendingEmail)
}

// MarkPinGate records that cached tokens were discarded in favour of a
// PIN challenge, so a later run resumes at the gate instead of treating
// the tokenless profile as corrupt.
func (s *SessionStore) MarkPinGate(ctx context.Context) error {
	return s.store.put(ctx, keyPinGate, []byte("1"))
}

// PinGateMarked reports whether a PIN challenge is outstanding.
func (s *SessionStore) PinGateMarked(ctx context.Context) (bool, error) {
	_, ok, err := s.store.get(ctx, keyPinGate)
	return ok, err
}

// ClearPinGate drops the PIN challenge marker.
func (s *SessionStore) ClearPinGate(ctx context.Context) error {
	return s.store.delete(ctx, keyPinGate)
}
