// Package render turns a raw status and its entity annotations into the
// final page markup.
//
// Two addressing modes are reconciled here. Link and media entities carry
// a short placeholder token that appears verbatim in the status text, so
// they are spliced in by token substitution. Mentions are addressed by
// codepoint offsets into the original text, so they are spliced in
// offset order, highest start first, before any token substitution can
// shift the text underneath them.
package render

import (
	"fmt"
	"html/template"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattkenney/soc/pkg/soc"
)

const maxRetweetDepth = 8

// tweetLinkRegex matches a status permalink on the platform itself, with
// optional www./m. subdomain and trailing query. Group 3 is the handle.
var tweetLinkRegex = regexp.MustCompile(`^https://((m|www)\.)?twitter\.com/([^/]+)/status/[0-9]+(\?|$)`)

// Format produces the full page model for one status: display contexts
// down through any retweet wrapping, the spliced content markup, and the
// reply pointer. utcOffset is the viewer's offset from UTC in seconds.
func Format(status *soc.Status, utcOffset int, message string) *soc.Rendered {
	idStr := status.IDStr
	contexts := []soc.Context{formatContext(status, utcOffset)}

	s := status
	for i := 0; i < maxRetweetDepth && s.Retweeted != nil; i++ {
		s = s.Retweeted
		ctx := formatContext(s, utcOffset)
		ctx.IsRetweet = true
		contexts = append(contexts, ctx)
	}

	var reply *soc.Reply
	if s.InReplyToScreenName != "" && s.InReplyToStatusID != "" {
		reply = &soc.Reply{
			URL:        fmt.Sprintf("https://twitter.com/%s/status/%s", s.InReplyToScreenName, s.InReplyToStatusID),
			ScreenName: s.InReplyToScreenName,
			IDStr:      s.InReplyToStatusID,
		}
	}

	return &soc.Rendered{
		IDStr:       idStr,
		Contexts:    contexts,
		ContentHTML: template.HTML(ContentHTML(s)),
		InReplyTo:   reply,
		Message:     message,
	}
}

// ContentHTML renders the status text with all entities spliced in.
// Pure function of its input: link titles are expected to have been
// resolved onto the entities beforehand.
func ContentHTML(s *soc.Status) string {
	text := spliceMentions(s.Text, s.Entities.UserMentions)

	for _, u := range s.Entities.URLs {
		if u.URL == "" {
			continue
		}
		text = strings.ReplaceAll(text, u.URL, urlFragment(u))
	}

	// The extended media list fully supersedes the basic one.
	media := s.Entities.Media
	if s.ExtendedEntities != nil && len(s.ExtendedEntities.Media) > 0 {
		media = s.ExtendedEntities.Media
	}
	for _, m := range media {
		frag := mediaFragment(m)
		if m.URL != "" && strings.Contains(text, m.URL) {
			text = strings.ReplaceAll(text, m.URL, frag)
		} else {
			// A media URL with no placeholder in the text is appended
			// rather than silently dropped.
			text += " " + frag
		}
	}

	return strings.ReplaceAll(text, "\n", "<br />")
}

// spliceMentions replaces each mention's [start, end) codepoint span with
// its fragment. Entities are processed in descending start order (ties
// also descending) so a splice never shifts the offsets of entities not
// yet processed.
func spliceMentions(text string, mentions []*soc.MentionEntity) string {
	if len(mentions) == 0 {
		return text
	}

	type splice struct {
		start, end int
		html       string
	}
	splices := make([]splice, 0, len(mentions))
	runes := []rune(text)
	for _, m := range mentions {
		if len(m.Indices) != 2 {
			continue
		}
		start, end := m.Indices[0], m.Indices[1]
		if start < 0 || end > len(runes) || start > end {
			continue
		}
		splices = append(splices, splice{start: start, end: end, html: mentionFragment(m)})
	}
	sort.SliceStable(splices, func(i, j int) bool {
		if splices[i].start != splices[j].start {
			return splices[i].start > splices[j].start
		}
		return splices[i].end > splices[j].end
	})

	for _, sp := range splices {
		if sp.end > len(runes) {
			continue
		}
		out := make([]rune, 0, len(runes)+len(sp.html))
		out = append(out, runes[:sp.start]...)
		out = append(out, []rune(sp.html)...)
		out = append(out, runes[sp.end:]...)
		runes = out
	}
	return string(runes)
}

func urlFragment(u *soc.URLEntity) string {
	href := escapeHTML(u.ExpandedURL)
	if m := tweetLinkRegex.FindStringSubmatch(u.ExpandedURL); m != nil {
		// A status permalink opens inline instead of leaving the app.
		return fmt.Sprintf(`<button class="soc_tweet_link" name="t" value="%s">[@%s tweet]</button>`,
			href, escapeHTML(m[3]))
	}
	if u.Title != "" {
		return fmt.Sprintf(`<a href="%s" class="soc_link">%s</a>`+
			`<button class="soc_button" name="a" value="%s">+</button>[%s]`,
			href, href, href, escapeHTML(u.Title))
	}
	return fmt.Sprintf(`<a href="%s" class="soc_link">%s</a>`+
		`<button class="soc_button" name="a" value="%s">+</button>`+
		`<button class="soc_button" name="i" value="%s">?</button>`,
		href, href, href, href)
}

func mediaFragment(m *soc.MediaEntity) string {
	href := escapeHTML(m.MediaURL)
	if m.Type == "video" || m.Type == "animated_gif" {
		return fmt.Sprintf(`<a href="%s" class="soc_video_link">[video]</a>`, href)
	}
	return fmt.Sprintf(`<a href="%s" class="soc_image_link">[image]</a>`, href)
}

func mentionFragment(m *soc.MentionEntity) string {
	// The visible handle is escaped twice, matching long-standing
	// behavior that downstream styling depends on.
	handle := escapeHTML(escapeHTML("@" + m.ScreenName))
	return fmt.Sprintf(`<a href="https://twitter.com/%s" title="%s" class="soc_mention">%s</a>`,
		escapeHTML(m.ScreenName), escapeHTML(m.Name), handle)
}

func formatContext(s *soc.Status, utcOffset int) soc.Context {
	return soc.Context{
		Name:       s.User.Name,
		ScreenName: s.User.ScreenName,
		CreatedAt:  formatTime(s.CreatedAt, utcOffset),
		Profile:    fmt.Sprintf("https://twitter.com/%s", s.User.ScreenName),
		URL:        fmt.Sprintf("https://twitter.com/%s/status/%s", s.User.ScreenName, s.IDStr),
	}
}

// formatTime renders an upstream created_at stamp in the viewer's local
// time. The raw string is returned unchanged when it does not parse.
func formatTime(createdAt string, utcOffset int) string {
	t, err := time.Parse(time.RubyDate, createdAt)
	if err != nil {
		slog.Warn("Unparseable timestamp", "created_at", createdAt, "error", err)
		return createdAt
	}
	return t.In(time.FixedZone("", utcOffset)).Format("3:04:05 PM 1/2/2006")
}

// escapeHTML escapes HTML special characters for security.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
