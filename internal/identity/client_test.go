package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parcelview/parcelview-client/internal/config"
	"github.com/parcelview/parcelview-client/internal/identity"
	"github.com/parcelview/parcelview-client/internal/models"
	"github.com/parcelview/parcelview-client/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*identity.Client, *store.TokenStore) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := store.New(&config.StorageConfig{
		Path: filepath.Join(t.TempDir(), "session.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tokens := store.NewTokenStore(s)
	client := identity.NewClient(identity.ClientParams{
		Config: &config.APIConfig{
			BaseURL: srv.URL,
			Timeout: 5 * time.Second,
		},
		Tokens: tokens,
	})
	return client, tokens
}

func writeSuccess(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}

func seedTokens(t *testing.T, tokens *store.TokenStore, access, refresh string) {
	t.Helper()
	require.NoError(t, tokens.Save(context.Background(), models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}))
}

func TestDo_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/properties", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeSuccess(w, map[string]string{"ok": "yes"})
	})

	client, tokens := newTestClient(t, mux)
	seedTokens(t, tokens, "access-1", "refresh-1")

	var out map[string]string
	require.NoError(t, client.Do(context.Background(), http.MethodGet, "/properties", nil, &out))
	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.Equal(t, "yes", out["ok"])
}

func TestDo_NoTokenIsNotAnError(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeSuccess(w, nil)
	})

	client, _ := newTestClient(t, mux)

	require.NoError(t, client.Do(context.Background(), http.MethodGet, "/public", nil, nil))
	assert.Empty(t, gotAuth)
}

func TestDo_RefreshesOnceThenSucceeds(t *testing.T) {
	var protectedCalls, refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/properties", func(w http.ResponseWriter, r *http.Request) {
		protectedCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-new" {
			writeFailure(w, http.StatusUnauthorized, "token expired")
			return
		}
		writeSuccess(w, map[string]string{"ok": "yes"})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-old", body["refresh_token"])
		writeSuccess(w, models.TokenPair{AccessToken: "access-new", RefreshToken: "refresh-new"})
	})

	client, tokens := newTestClient(t, mux)
	seedTokens(t, tokens, "access-old", "refresh-old")

	var out map[string]string
	require.NoError(t, client.Do(context.Background(), http.MethodGet, "/properties", nil, &out))

	assert.Equal(t, int32(2), protectedCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())

	// The refreshed pair must be the one persisted now
	access, ok := tokens.AccessToken()
	require.True(t, ok)
	assert.Equal(t, "access-new", access)
	refresh, _ := tokens.RefreshToken()
	assert.Equal(t, "refresh-new", refresh)
}

func TestDo_RetriesAtMostOnce(t *testing.T) {
	var protectedCalls, refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/properties", func(w http.ResponseWriter, r *http.Request) {
		protectedCalls.Add(1)
		writeFailure(w, http.StatusUnauthorized, "still no")
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeSuccess(w, models.TokenPair{AccessToken: "access-new", RefreshToken: "refresh-new"})
	})

	client, tokens := newTestClient(t, mux)
	seedTokens(t, tokens, "access-old", "refresh-old")

	err := client.Do(context.Background(), http.MethodGet, "/properties", nil, nil)
	require.Error(t, err)

	var apiErr *identity.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	// Exactly two hits on the protected endpoint, one refresh, no loop
	assert.Equal(t, int32(2), protectedCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestDo_NoRefreshTokenSurfacesOriginalFailure(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/properties", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusUnauthorized, "no session")
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeSuccess(w, nil)
	})

	client, _ := newTestClient(t, mux)

	err := client.Do(context.Background(), http.MethodGet, "/properties", nil, nil)
	require.Error(t, err)

	var apiErr *identity.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "no session", apiErr.Message)
	assert.Equal(t, int32(0), refreshCalls.Load())
}

func TestDo_RefreshFailureClearsTokensAndFiresHook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/properties", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusUnauthorized, "token expired")
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusUnauthorized, "refresh token revoked")
	})

	client, tokens := newTestClient(t, mux)
	seedTokens(t, tokens, "access-old", "refresh-old")

	var expired atomic.Bool
	client.OnSessionExpired(func() { expired.Store(true) })

	err := client.Do(context.Background(), http.MethodGet, "/properties", nil, nil)
	require.ErrorIs(t, err, identity.ErrSessionExpired)

	assert.True(t, expired.Load(), "session-expired hook must fire")
	_, ok := tokens.AccessToken()
	assert.False(t, ok, "tokens cleared after refresh failure")
}
