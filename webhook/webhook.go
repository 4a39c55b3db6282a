// Package webhook delivers release notifications to chat webhooks.
package webhook

import (
	"context"
	"log/slog"

	"npm-release-notifier/pkg/release"
)

// Provider defines the interface for webhook implementations.
type Provider interface {
	// Send delivers one message. It does not retry.
	Send(ctx context.Context, msg release.Message) error
}

// MockProvider logs messages instead of posting them.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a provider for dry runs.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, msg release.Message) error {
	m.logger.Info("MOCK WEBHOOK",
		"title", msg.Title,
		"description", msg.Description,
		"url", msg.URL,
		"author", msg.Author.Name,
		"author_icon", msg.Author.IconURL)
	return nil
}
