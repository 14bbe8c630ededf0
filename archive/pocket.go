package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultAPIBaseURL  = "https://getpocket.com/v3"
	defaultAuthBaseURL = "https://getpocket.com"
	requestTimeout     = 30 * time.Second
)

// Pocket is the production provider. Requests ride a retrying HTTP
// client: the add is asynchronous from the user's point of view, so a
// transparent retry is harmless.
type Pocket struct {
	client      *http.Client
	logger      *slog.Logger
	consumerKey string
	apiBaseURL  string
	authBaseURL string
}

// NewPocket creates a Pocket provider.
func NewPocket(consumerKey string, logger *slog.Logger) *Pocket {
	r := retryablehttp.NewClient()
	r.RetryMax = 2
	r.HTTPClient.Timeout = requestTimeout
	r.Logger = nil
	return &Pocket{
		client:      r.StandardClient(),
		logger:      logger,
		consumerKey: consumerKey,
		apiBaseURL:  defaultAPIBaseURL,
		authBaseURL: defaultAuthBaseURL,
	}
}

// Add saves a URL to the user's reading list.
func (p *Pocket) Add(ctx context.Context, accessToken, rawurl, tweetID string) error {
	payload := map[string]string{
		"consumer_key": p.consumerKey,
		"access_token": accessToken,
		"url":          rawurl,
	}
	if tweetID != "" {
		payload["tweet_id"] = tweetID
	}

	var out map[string]any
	if err := p.post(ctx, "/add", payload, &out); err != nil {
		return fmt.Errorf("add to pocket: %w", err)
	}
	p.logger.Info("URL archived", "url", rawurl, "tweet_id", tweetID)
	return nil
}

// RequestCode obtains a request token for the authorization ceremony.
func (p *Pocket) RequestCode(ctx context.Context, redirectURI string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	err := p.post(ctx, "/oauth/request", map[string]string{
		"consumer_key": p.consumerKey,
		"redirect_uri": redirectURI,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("request code: %w", err)
	}
	return out.Code, nil
}

// AuthorizeURL is the approval page for a request code.
func (p *Pocket) AuthorizeURL(code, redirectURI string) string {
	q := url.Values{}
	q.Set("request_token", code)
	q.Set("redirect_uri", redirectURI)
	return p.authBaseURL + "/auth/authorize?" + q.Encode()
}

// AccessToken exchanges an approved request code for an access token.
func (p *Pocket) AccessToken(ctx context.Context, code string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
	}
	err := p.post(ctx, "/oauth/authorize", map[string]string{
		"consumer_key": p.consumerKey,
		"code":         code,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	return out.AccessToken, nil
}

func (p *Pocket) post(ctx context.Context, path string, payload map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pocket request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
