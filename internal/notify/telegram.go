package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// senderClient is shared by all webhook senders so desk alerts reuse one
// connection pool instead of redialing per channel.
var senderClient = &http.Client{Timeout: 10 * time.Second}

// TelegramSender delivers desk alerts to an on-call Telegram chat via the Bot
// API.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client:  senderClient,
	}
}

// telegramMessage is the sendMessage request body.
type telegramMessage struct {
	ChatID            string `json:"chat_id"`
	Text              string `json:"text"`
	ParseMode         string `json:"parse_mode"`
	DisableWebPreview bool   `json:"disable_web_page_preview"`
}

// Send posts an alert to the configured chat. The title renders bold via HTML
// parse mode; title and message are escaped so option symbols and operator
// reasons can never break the markup.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	payload := telegramMessage{
		ChatID:            t.chatID,
		Text:              fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message)),
		ParseMode:         "HTML",
		DisableWebPreview: true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Surface the API description so a misconfigured chat id or revoked
		// token is diagnosable from the desk log alone.
		var apiResp struct {
			Description string `json:"description"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if jerr := json.Unmarshal(raw, &apiResp); jerr == nil && apiResp.Description != "" {
			return fmt.Errorf("notify: telegram: status %d: %s", resp.StatusCode, apiResp.Description)
		}
		return fmt.Errorf("notify: telegram: status %d: %s", resp.StatusCode, string(raw))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
