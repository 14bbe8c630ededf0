// Package soc contains the core domain types for the timeline viewer.
package soc

import (
	"html/template"
	"time"
)

// User identifies the author of a status.
type User struct {
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// URLEntity is a link annotation. URL holds the short t.co token that
// appears verbatim in the status text; ExpandedURL is the real target.
// Title is filled in out-of-band by the link resolver.
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url,omitempty"`
	Title       string `json:"title,omitempty"`
	Indices     []int  `json:"indices,omitempty"`
}

// MediaEntity is an attached image, video or animated gif.
type MediaEntity struct {
	URL      string `json:"url"`
	MediaURL string `json:"media_url_https"`
	Type     string `json:"type"`
	Indices  []int  `json:"indices,omitempty"`
}

// MentionEntity is an @-mention addressed by codepoint offsets into the
// status text rather than by a placeholder token.
type MentionEntity struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
	Indices    []int  `json:"indices,omitempty"`
}

// Entities groups the annotations attached to one status.
type Entities struct {
	URLs         []*URLEntity     `json:"urls,omitempty"`
	Media        []*MediaEntity   `json:"media,omitempty"`
	UserMentions []*MentionEntity `json:"user_mentions,omitempty"`
}

// Status is one timeline item as returned by the upstream API. IDs are
// strictly decreasing as you walk deeper into history: newer items have
// larger ids.
type Status struct {
	ID                  int64     `json:"id"`
	IDStr               string    `json:"id_str"`
	Text                string    `json:"text"`
	CreatedAt           string    `json:"created_at"`
	User                User      `json:"user"`
	Retweeted           *Status   `json:"retweeted_status,omitempty"`
	InReplyToStatusID   string    `json:"in_reply_to_status_id_str,omitempty"`
	InReplyToScreenName string    `json:"in_reply_to_screen_name,omitempty"`
	Entities            Entities  `json:"entities"`
	ExtendedEntities    *Entities `json:"extended_entities,omitempty"`
}

// maxRetweetDepth bounds retweet unwrapping on malformed payloads. The
// upstream API only nests one level in practice.
const maxRetweetDepth = 8

// Original returns the innermost retweeted status, or the status itself
// when it is not a retweet.
func (s *Status) Original() *Status {
	for i := 0; i < maxRetweetDepth && s.Retweeted != nil; i++ {
		s = s.Retweeted
	}
	return s
}

// Context is the display framing (author, timestamp, permalink) of one
// level of a possibly-retweeted status.
type Context struct {
	Name       string
	ScreenName string
	CreatedAt  string
	Profile    string
	URL        string
	IsRetweet  bool
}

// Reply points at the status this one replies to.
type Reply struct {
	URL        string
	ScreenName string
	IDStr      string
}

// Rendered is a fully formatted status ready for the page template.
type Rendered struct {
	IDStr       string
	Contexts    []Context
	ContentHTML template.HTML
	InReplyTo   *Reply
	Message     string
}

// Session is the per-browser login state, persisted through the store.
type Session struct {
	ID                string    `json:"id"`
	UID               string    `json:"uid"`
	Name              string    `json:"name"`
	UTCOffset         int       `json:"utc_offset"`
	Token             string    `json:"token"`
	Secret            string    `json:"secret"`
	RequestToken      string    `json:"request_token,omitempty"`
	RequestSecret     string    `json:"request_secret,omitempty"`
	PocketCode        string    `json:"pocket_code,omitempty"`
	PendingArchiveURL string    `json:"pending_archive_url,omitempty"`
	Night             bool      `json:"night"`
	CreatedAt         time.Time `json:"created_at"`
	LastSeen          time.Time `json:"last_seen"`
}

// LoggedIn reports whether the session completed the login ceremony.
func (s *Session) LoggedIn() bool {
	return s != nil && s.UID != ""
}
