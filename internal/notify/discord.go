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

// Embed colors per event, Discord's decimal RGB encoding.
const (
	discordGreen = 0x2ecc71
	discordRed   = 0xe74c3c
	discordGrey  = 0x95a5a6
)

// DiscordSender delivers alerts via a Discord webhook as rich embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
}

// Send posts the alert to the Discord webhook as an embed; the embed title
// links to the transaction on the block explorer.
func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	color := discordGrey
	switch alert.Event {
	case EventOrderConfirmed:
		color = discordGreen
	case EventOrderReverted:
		color = discordRed
	}

	action := alert.Kind
	if alert.Side != "" {
		action = alert.Kind + " " + alert.Side
	}
	embed := discordEmbed{
		Title:       alert.Title,
		Description: alert.Detail,
		URL:         alert.TxURL(),
		Color:       color,
		Fields: []discordField{
			{Name: "Pair", Value: alert.Pair, Inline: true},
			{Name: "Action", Value: action, Inline: true},
			{Name: "Order", Value: alert.OrderID, Inline: true},
			{Name: "Tx", Value: shortHash(alert.TxHash), Inline: true},
		},
	}

	payload := map[string]any{
		"embeds": []discordEmbed{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// shortHash abbreviates a 0x hash for embed fields.
func shortHash(h string) string {
	if len(h) <= 12 || !strings.HasPrefix(h, "0x") {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
