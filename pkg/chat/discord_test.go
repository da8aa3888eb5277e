package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessenger(t *testing.T, handler http.HandlerFunc) *DiscordMessenger {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	m := NewDiscordMessenger("test-token")
	m.baseURL = server.URL
	return m
}

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotPayload discordMessagePayload

	m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/channels/123/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{}`))
	})

	require.NoError(t, m.SendMessage(context.Background(), "123", "hello"))
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Equal(t, "hello", gotPayload.Content)
}

func TestSendEmbedsBatches(t *testing.T) {
	var payloads []discordMessagePayload

	m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		var p discordMessagePayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads = append(payloads, p)
		w.Write([]byte(`{}`))
	})

	embeds := make([]Embed, 23)
	for i := range embeds {
		embeds[i] = Embed{Title: "card"}
	}

	require.NoError(t, m.SendEmbeds(context.Background(), "123", "@here", embeds))

	require.Len(t, payloads, 3)
	assert.Len(t, payloads[0].Embeds, MaxEmbedsPerMessage)
	assert.Len(t, payloads[1].Embeds, MaxEmbedsPerMessage)
	assert.Len(t, payloads[2].Embeds, 3)
	// Mention content rides on the first batch only
	assert.Equal(t, "@here", payloads[0].Content)
	assert.Empty(t, payloads[1].Content)
	assert.Empty(t, payloads[2].Content)
}

func TestSendEmbedsEmpty(t *testing.T) {
	calls := 0
	m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	})

	require.NoError(t, m.SendEmbeds(context.Background(), "123", "", nil))
	assert.Zero(t, calls)
}

func TestResolveChannel(t *testing.T) {
	m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/456", r.URL.Path)
		w.Write([]byte(`{"id":"456","name":"alerts","guild_id":"789"}`))
	})

	ch, err := m.ResolveChannel(context.Background(), "456")
	require.NoError(t, err)
	assert.Equal(t, "alerts", ch.Name)
	assert.Equal(t, "789", ch.ServerID)
}

func TestHasPermission(t *testing.T) {
	permissionServer := func(overwrites, roles string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/channels/777":
				w.Write([]byte(`{"id":"777","guild_id":"900","permission_overwrites":` + overwrites + `}`))
			case "/guilds/900/members/@me":
				w.Write([]byte(`{"user":{"id":"bot-1"},"roles":["555"]}`))
			case "/guilds/900/roles":
				w.Write([]byte(roles))
			default:
				t.Fatalf("unexpected request %s", r.URL.Path)
			}
		}
	}

	t.Run("view and send granted by role", func(t *testing.T) {
		m := testMessenger(t, permissionServer(`[]`,
			`[{"id":"900","permissions":"1024"},{"id":"555","permissions":"2048"}]`))

		ok, err := m.HasPermission(context.Background(), "777")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("send denied by everyone overwrite", func(t *testing.T) {
		m := testMessenger(t, permissionServer(
			`[{"id":"900","type":0,"allow":"0","deny":"2048"}]`,
			`[{"id":"900","permissions":"3072"}]`))

		ok, err := m.HasPermission(context.Background(), "777")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("role overwrite restores denied send", func(t *testing.T) {
		m := testMessenger(t, permissionServer(
			`[{"id":"900","type":0,"allow":"0","deny":"2048"},{"id":"555","type":0,"allow":"2048","deny":"0"}]`,
			`[{"id":"900","permissions":"3072"},{"id":"555","permissions":"0"}]`))

		ok, err := m.HasPermission(context.Background(), "777")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("administrator bypasses overwrites", func(t *testing.T) {
		m := testMessenger(t, permissionServer(
			`[{"id":"900","type":0,"allow":"0","deny":"3072"}]`,
			`[{"id":"900","permissions":"8"}]`))

		ok, err := m.HasPermission(context.Background(), "777")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing access reports unusable without error", func(t *testing.T) {
		m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"code":50001,"message":"Missing Access"}`))
		})

		ok, err := m.HasPermission(context.Background(), "777")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("transient failure surfaces the error", func(t *testing.T) {
		m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{}`))
		})

		_, err := m.HasPermission(context.Background(), "777")
		assert.Error(t, err)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unknown channel", http.StatusNotFound, `{"code":10003,"message":"Unknown Channel"}`, ErrUnknownChannel},
		{"unknown guild", http.StatusNotFound, `{"code":10004,"message":"Unknown Guild"}`, ErrUnknownServer},
		{"missing access", http.StatusForbidden, `{"code":50001,"message":"Missing Access"}`, ErrMissingAccess},
		{"missing permissions", http.StatusForbidden, `{"code":50013,"message":"Missing Permissions"}`, ErrMissingAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := m.ResolveChannel(context.Background(), "456")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unmapped code surfaces status", func(t *testing.T) {
		m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":50035,"message":"Invalid Form Body"}`))
		})

		_, err := m.ResolveChannel(context.Background(), "456")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 400")
	})
}

func TestRateLimitRetriesOnce(t *testing.T) {
	calls := 0
	m := testMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"You are being rate limited."}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	require.NoError(t, m.SendMessage(context.Background(), "123", "hello"))
	assert.Equal(t, 2, calls)
}
