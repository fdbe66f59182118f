package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"go.uber.org/zap"
)

// TokenStore is the single source of truth for the current token pair.
// It keeps an in-memory cache lazily loaded from the database; the cache
// is only updated after the durable write has succeeded, so memory never
// runs ahead of disk.
type TokenStore struct {
	store *Store

	mu     sync.RWMutex
	loaded bool
	pair   *models.TokenPair
}

// NewTokenStore creates a TokenStore backed by the given database.
func NewTokenStore(store *Store) *TokenStore {
	return &TokenStore{store: store}
}

// Load returns the persisted token pair, reading durable storage at most
// once. A stored pair with a missing field is treated as absent.
func (t *TokenStore) Load(ctx context.Context) (*models.TokenPair, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded {
		return t.pair, nil
	}

	value, ok, err := t.store.get(ctx, keyTokens)
	if err != nil {
		return nil, err
	}
	t.loaded = true
	if !ok {
		return nil, nil
	}

	var pair models.TokenPair
	if err := json.Unmarshal(value, &pair); err != nil {
		logger.Warn("discarding unreadable token record", zap.Error(err))
		return nil, nil
	}
	if !pair.Valid() {
		logger.Warn("discarding partial token pair")
		return nil, nil
	}

	t.pair = &pair
	return t.pair, nil
}

// Save persists a token pair and then updates the in-memory cache. If the
// durable write fails the cache keeps its previous value.
func (t *TokenStore) Save(ctx context.Context, pair models.TokenPair) error {
	if !pair.Valid() {
		return fmt.Errorf("refusing to save partial token pair")
	}

	value, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode token pair: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.put(ctx, keyTokens, value); err != nil {
		return err
	}
	t.loaded = true
	t.pair = &pair
	return nil
}

// Clear removes the token pair from both memory and durable storage.
func (t *TokenStore) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.delete(ctx, keyTokens); err != nil {
		return err
	}
	t.loaded = true
	t.pair = nil
	return nil
}

// AccessToken returns the cached access token. It never touches durable
// storage; callers on the request hot path rely on that.
func (t *TokenStore) AccessToken() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.pair == nil {
		return "", false
	}
	return t.pair.AccessToken, true
}

// RefreshToken returns the cached refresh token.
func (t *TokenStore) RefreshToken() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.pair == nil {
		return "", false
	}
	return t.pair.RefreshToken, true
}

// applyCached installs a pair into the memory cache. Used by SessionStore
// after a transactional write that already persisted the pair.
func (t *TokenStore) applyCached(pair *models.TokenPair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = true
	t.pair = pair
}
