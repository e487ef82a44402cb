package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embed colors for the desk's alert severities.
const (
	discordColorInfo  = 0x2E6DA4 // routine lifecycle events
	discordColorAlert = 0xC23B22 // failures and kill-switch halts
)

// DiscordSender delivers desk alerts to a Discord channel webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     senderClient,
	}
}

// discordEmbed is one embed block in a webhook execution request.
type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// discordWebhook is the webhook execution request body.
type discordWebhook struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts an alert embed to the webhook. Failure and kill-switch alerts
// are colored red so they stand out in the channel history.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordWebhook{
		Username: "hedgedesk",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       embedColor(title),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if jerr := json.Unmarshal(raw, &apiResp); jerr == nil && apiResp.Message != "" {
			return fmt.Errorf("notify: discord: status %d: %s", resp.StatusCode, apiResp.Message)
		}
		return fmt.Errorf("notify: discord: status %d: %s", resp.StatusCode, string(raw))
	}

	return nil
}

// embedColor picks the severity color from the alert title.
func embedColor(title string) int {
	lower := strings.ToLower(title)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "kill switch triggered") {
		return discordColorAlert
	}
	return discordColorInfo
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
