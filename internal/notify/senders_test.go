package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSendEscapesMarkup(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok-1/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok-1", "chat-9")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), "Exit triggered: NIFTY25MAR25000PE",
		"reason: spot < strike - 200")
	require.NoError(t, err)

	assert.Equal(t, "chat-9", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.True(t, got.DisableWebPreview)
	assert.Equal(t,
		"<b>Exit triggered: NIFTY25MAR25000PE</b>\nreason: spot &lt; strike - 200",
		got.Text, "operator text is escaped, markup is ours")
}

func TestTelegramSendSurfacesAPIDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok-1", "chat-9")
	s.apiBase = srv.URL

	err := s.Send(context.Background(), "Kill switch triggered", "new entries halted")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSendColorsBySeverity(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)

	require.NoError(t, s.Send(context.Background(), "Position exited: NIFTY25MAR25000PE", "realized P&L: 750.00"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "hedgedesk", got.Username)
	assert.Equal(t, discordColorInfo, got.Embeds[0].Color)

	require.NoError(t, s.Send(context.Background(), "Close failed: NIFTY25MAR25000PE", "retryable: true"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, discordColorAlert, got.Embeds[0].Color)

	require.NoError(t, s.Send(context.Background(), "Kill switch triggered", "new entries halted"))
	assert.Equal(t, discordColorAlert, got.Embeds[0].Color)
}

func TestDiscordSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid Webhook Token","code":50027}`))
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)

	err := s.Send(context.Background(), "Exit triggered", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Webhook Token")
}
