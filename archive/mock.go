package archive

import (
	"context"
	"log/slog"
)

// MockProvider is a mock read-later provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Add logs the URL instead of archiving it.
func (m *MockProvider) Add(ctx context.Context, accessToken, rawurl, tweetID string) error {
	m.logger.Info("MOCK ARCHIVE",
		"url", rawurl,
		"tweet_id", tweetID)
	return nil
}

// RequestCode returns a canned code.
func (m *MockProvider) RequestCode(ctx context.Context, redirectURI string) (string, error) {
	return "mock-code", nil
}

// AuthorizeURL skips the approval page and goes straight back.
func (m *MockProvider) AuthorizeURL(code, redirectURI string) string {
	return redirectURI
}

// AccessToken returns a canned token.
func (m *MockProvider) AccessToken(ctx context.Context, code string) (string, error) {
	return "mock-token", nil
}
