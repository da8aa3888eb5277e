package sso

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAuthURLAndConsumeState(t *testing.T) {
	handler := NewEVESSOHandler()

	authURL, state := handler.GenerateAuthURL("server-1", "user-1")
	require.NotEmpty(t, state)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, EVEAuthURL))
	assert.Equal(t, "code", parsed.Query().Get("response_type"))
	assert.Equal(t, EVEScopes, parsed.Query().Get("scope"))
	assert.Equal(t, state, parsed.Query().Get("state"))

	serverID, userID, err := handler.ConsumeState(state)
	require.NoError(t, err)
	assert.Equal(t, "server-1", serverID)
	assert.Equal(t, "user-1", userID)

	// States are single-use
	_, _, err = handler.ConsumeState(state)
	assert.Error(t, err)
}

func TestConsumeStateRejectsUnknown(t *testing.T) {
	handler := NewEVESSOHandler()
	_, _, err := handler.ConsumeState("never-issued")
	assert.Error(t, err)
}

func TestConsumeStateRejectsExpired(t *testing.T) {
	handler := NewEVESSOHandler()
	_, state := handler.GenerateAuthURL("server-1", "user-1")

	handler.statesMu.Lock()
	handler.states[state].createdAt = time.Now().Add(-stateTTL - time.Minute)
	handler.statesMu.Unlock()

	_, _, err := handler.ConsumeState(state)
	assert.Error(t, err)
}

func makeAccessToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestParseTokenIdentity(t *testing.T) {
	token := makeAccessToken(t, jwt.MapClaims{
		"sub":  "CHARACTER:EVE:2112345678",
		"name": "Capsuleer Jane",
		"scp": []interface{}{
			"esi-characters.read_notifications.v1",
			"esi-corporations.read_structures.v1",
		},
	})

	identity, err := ParseTokenIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, 2112345678, identity.CharacterID)
	assert.Equal(t, "Capsuleer Jane", identity.CharacterName)
	assert.Len(t, identity.Scopes, 2)
}

func TestParseTokenIdentitySingleScope(t *testing.T) {
	token := makeAccessToken(t, jwt.MapClaims{
		"sub": "CHARACTER:EVE:90000001",
		"scp": "esi-characters.read_notifications.v1",
	})

	identity, err := ParseTokenIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, []string{"esi-characters.read_notifications.v1"}, identity.Scopes)
}

func TestParseTokenIdentityBadSubject(t *testing.T) {
	tests := []struct {
		name string
		sub  interface{}
	}{
		{"wrong prefix", "AGENT:EVE:123"},
		{"missing parts", "CHARACTER:123"},
		{"non-numeric id", "CHARACTER:EVE:abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := makeAccessToken(t, jwt.MapClaims{"sub": tt.sub})
			_, err := ParseTokenIdentity(token)
			assert.Error(t, err)
		})
	}
}

func TestIsAuthRejection(t *testing.T) {
	assert.True(t, IsAuthRejection(&AuthError{StatusCode: 400}))
	assert.True(t, IsAuthRejection(&AuthError{StatusCode: 403}))
	assert.False(t, IsAuthRejection(&AuthError{StatusCode: 502}))
	assert.False(t, IsAuthRejection(errors.New("connection refused")))

	// Wrapped rejections are still recognised
	wrapped := fmt.Errorf("refresh failed: %w", &AuthError{StatusCode: 401})
	assert.True(t, IsAuthRejection(wrapped))
}
