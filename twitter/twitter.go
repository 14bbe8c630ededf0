// Package twitter is the upstream timeline source: a thin OAuth1-signed
// client for the REST API endpoints the viewer consumes.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattkenney/soc/pkg/soc"
)

const (
	defaultAPIBaseURL  = "https://api.twitter.com/1.1"
	defaultAuthBaseURL = "https://api.twitter.com"
	requestTimeout     = 30 * time.Second
)

// ErrNotFound indicates the requested status does not exist (deleted,
// protected, or never existed).
var ErrNotFound = errors.New("twitter: status not found")

// Client talks to the upstream API. The zero-token client can only run
// the OAuth dance; WithToken binds it to a logged-in user.
//
// Fetches are single-shot with a request timeout: a failed page is
// reported once and the caller degrades, no retries.
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string
	apiBaseURL     string
	authBaseURL    string
}

// New creates a client holding only application credentials.
func New(consumerKey, consumerSecret string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: requestTimeout},
		logger:         logger,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		apiBaseURL:     defaultAPIBaseURL,
		authBaseURL:    defaultAuthBaseURL,
	}
}

// WithToken returns a copy of the client bound to a user's access token.
func (c *Client) WithToken(token, secret string) *Client {
	bound := *c
	bound.token = token
	bound.tokenSecret = secret
	return &bound
}

// Account is the subset of the credential-verification response the
// viewer needs: a stable user id and a per-user UTC offset.
type Account struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
	UTCOffset  int    `json:"utc_offset"`
}

// HomeTimeline fetches up to count items of the user's home timeline,
// newest first. sinceID and maxID are the API's inclusive paging bounds;
// zero leaves them unset.
func (c *Client) HomeTimeline(ctx context.Context, count int, sinceID, maxID int64) ([]*soc.Status, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	if maxID > 0 {
		q.Set("max_id", strconv.FormatInt(maxID, 10))
	}

	var items []*soc.Status
	if err := c.get(ctx, "/statuses/home_timeline.json", q, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		normalize(item)
	}
	return items, nil
}

// Show fetches a single status by id.
func (c *Client) Show(ctx context.Context, id string) (*soc.Status, error) {
	q := url.Values{}
	q.Set("id", id)

	var status soc.Status
	if err := c.get(ctx, "/statuses/show.json", q, &status); err != nil {
		return nil, err
	}
	normalize(&status)
	return &status, nil
}

// VerifyCredentials identifies the logged-in user.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.get(ctx, "/account/verify_credentials.json", url.Values{}, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Verify identifies the user behind an access token.
func (c *Client) Verify(ctx context.Context, token, secret string) (*Account, error) {
	return c.WithToken(token, secret).VerifyCredentials(ctx)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.apiBaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader(http.MethodGet, endpoint, q, nil))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("API request completed",
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RequestToken starts the login ceremony and returns temporary
// credentials.
func (c *Client) RequestToken(ctx context.Context, callback string) (token, secret string, err error) {
	vals, err := c.oauthPost(ctx, "/oauth/request_token", map[string]string{
		"oauth_callback": callback,
	})
	if err != nil {
		return "", "", err
	}
	return vals.Get("oauth_token"), vals.Get("oauth_token_secret"), nil
}

// AuthorizeURL is where the browser is sent to approve the login.
func (c *Client) AuthorizeURL(requestToken string) string {
	return c.authBaseURL + "/oauth/authenticate?oauth_token=" + url.QueryEscape(requestToken)
}

// AccessToken exchanges an approved request token for the user's
// long-lived credentials.
func (c *Client) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (token, secret string, err error) {
	bound := c.WithToken(requestToken, requestSecret)
	vals, err := bound.oauthPost(ctx, "/oauth/access_token", map[string]string{
		"oauth_verifier": verifier,
	})
	if err != nil {
		return "", "", err
	}
	return vals.Get("oauth_token"), vals.Get("oauth_token_secret"), nil
}

func (c *Client) oauthPost(ctx context.Context, path string, extra map[string]string) (url.Values, error) {
	endpoint := c.authBaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader(http.MethodPost, endpoint, url.Values{}, extra))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oauth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse oauth response: %w", err)
	}
	return vals, nil
}

// normalize validates the loosely-typed upstream record once at the
// boundary so the rest of the code never re-inspects it.
func normalize(s *soc.Status) {
	if s == nil {
		return
	}
	if s.IDStr == "" && s.ID != 0 {
		s.IDStr = strconv.FormatInt(s.ID, 10)
	}
	normalizeEntities(&s.Entities)
	if s.ExtendedEntities != nil {
		normalizeEntities(s.ExtendedEntities)
	}
	normalize(s.Retweeted)
}

func normalizeEntities(e *soc.Entities) {
	for _, m := range e.UserMentions {
		if len(m.Indices) != 0 && len(m.Indices) != 2 {
			m.Indices = nil
		}
	}
}
