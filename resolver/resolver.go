// Package resolver follows a link through its redirect chain and pulls
// the page title, so the viewer can label shortened links.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const requestTimeout = 30 * time.Second

// Resolver resolves link targets and titles.
type Resolver struct {
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a new resolver.
func New(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger:  logger,
		timeout: requestTimeout,
	}
}

// Resolve fetches rawurl, following redirects with a fresh cookie jar
// (some shorteners set cookies mid-chain), and returns the final URL and
// the page title. A failed fetch is an error; an unreadable title is
// not, it just comes back empty.
func (r *Resolver) Resolve(ctx context.Context, rawurl string) (string, string, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", "", fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{
		Timeout: r.timeout,
		Jar:     jar,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch link: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	final := resp.Request.URL.String()
	r.logger.Info("Link resolved",
		"url", rawurl,
		"final_url", final,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		r.logger.Warn("Failed to parse page for title", "url", final, "error", err)
		return final, "", nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return final, title, nil
}
