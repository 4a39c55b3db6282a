package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"npm-release-notifier/pkg/release"
)

// Discord allows roughly 30 messages per minute per webhook.
const discordRate = rate.Limit(0.5)

// DiscordProvider posts embeds to a Discord-compatible webhook.
type DiscordProvider struct {
	client  *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	url     string
}

// NewDiscordProvider creates a provider posting to webhookURL.
func NewDiscordProvider(client *http.Client, webhookURL string, logger *slog.Logger) *DiscordProvider {
	return &DiscordProvider{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(discordRate, 5),
		url:     webhookURL,
	}
}

type discordPayload struct {
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url"`
	Embeds    []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Author      discordAuthor `json:"author"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	Timestamp   string        `json:"timestamp,omitempty"`
	Color       int           `json:"color"`
}

type discordAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
}

func payloadFor(msg release.Message) discordPayload {
	embed := discordEmbed{
		Author: discordAuthor{
			Name:    msg.Author.Name,
			IconURL: msg.Author.IconURL,
		},
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       msg.Color,
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return discordPayload{
		Username:  msg.Username,
		AvatarURL: msg.BrandIconURL,
		Embeds:    []discordEmbed{embed},
	}
}

// Send posts msg once.
func (d *DiscordProvider) Send(ctx context.Context, msg release.Message) error {
	jsonData, err := json.Marshal(payloadFor(msg))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	d.logger.Debug("Webhook request starting",
		"method", "POST",
		"title", msg.Title)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := d.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	d.logger.Info("Webhook request completed",
		"title", msg.Title,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	return nil
}
