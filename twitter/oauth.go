package twitter

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// authHeader builds an OAuth 1.0a Authorization header for one request.
// query holds the request's query/form parameters; extra holds protocol
// parameters beyond the standard set (oauth_callback, oauth_verifier).
func (c *Client) authHeader(method, endpoint string, query url.Values, extra map[string]string) string {
	oauth := map[string]string{
		"oauth_consumer_key":     c.consumerKey,
		"oauth_nonce":            strings.ReplaceAll(uuid.NewString(), "-", ""),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if c.token != "" {
		oauth["oauth_token"] = c.token
	}
	for k, v := range extra {
		oauth[k] = v
	}

	base := signatureBase(method, endpoint, query, oauth)
	oauth["oauth_signature"] = sign(base, c.consumerSecret, c.tokenSecret)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s="%s"`, percentEncode(k), percentEncode(oauth[k]))
	}
	return b.String()
}

// signatureBase builds the RFC 5849 signature base string: the method,
// the bare endpoint URL, and every request and protocol parameter
// percent-encoded, sorted and joined.
func signatureBase(method, endpoint string, query url.Values, oauth map[string]string) string {
	pairs := make([]string, 0, len(query)+len(oauth))
	for k, vs := range query {
		for _, v := range vs {
			pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
		}
	}
	for k, v := range oauth {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)

	return strings.ToUpper(method) + "&" +
		percentEncode(endpoint) + "&" +
		percentEncode(strings.Join(pairs, "&"))
}

func sign(base, consumerSecret, tokenSecret string) string {
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode implements the strict RFC 3986 encoding OAuth requires;
// url.QueryEscape is close but not signature-compatible (spaces, tildes).
func percentEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
