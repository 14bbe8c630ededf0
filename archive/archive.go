// Package archive sends links to a read-later service. The sink is fire
// and forget from the viewer's perspective; a pluggable provider keeps
// local development off the network.
package archive

import (
	"context"
)

// Provider is a read-later backend.
type Provider interface {
	// Add saves a URL for later reading, optionally tagged with the
	// status id it came from.
	Add(ctx context.Context, accessToken, rawurl, tweetID string) error
	// RequestCode starts the authorization ceremony.
	RequestCode(ctx context.Context, redirectURI string) (string, error)
	// AuthorizeURL is where the browser approves the request code.
	AuthorizeURL(code, redirectURI string) string
	// AccessToken converts an approved code into a long-lived token.
	AccessToken(ctx context.Context, code string) (string, error)
}
