package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/mattkenney/soc/pkg/soc"
	"github.com/mattkenney/soc/render"
	"github.com/mattkenney/soc/timeline"
)

// statusPathRegex pulls the numeric id out of a status permalink.
var statusPathRegex = regexp.MustCompile(`/status(?:es)?/([0-9]+)`)

type pageData struct {
	Status *soc.Rendered
	Night  bool
	Base   string
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleView(w, r)
	case http.MethodPost:
		s.handleNavigate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	eng := s.engine(sess.Token, sess.Secret)
	status, index, err := eng.Navigate(ctx, sess.UID, 0, "")
	page := s.buildPage(sess, status, index, err)

	// Replay an archive request parked across the pocket authorization
	// ceremony. No redirect here: if the token is still missing we log
	// and move on instead of looping.
	if sess.PendingArchiveURL != "" {
		rawurl := sess.PendingArchiveURL
		sess.PendingArchiveURL = ""
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.logger.Warn("Failed to clear pending archive URL", "uid", sess.UID, "error", err)
		}
		if s.archiveNow(ctx, sess.UID, rawurl, page.IDStr) {
			page.Message = "pocketed"
		}
	}

	s.renderPage(w, sess, page)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	form := r.PostForm

	if form.Has("u") {
		http.Redirect(w, r, "/auth/info", http.StatusFound)
		return
	}

	eng := s.engine(sess.Token, sess.Secret)
	currentID := form.Get("id")

	// Open a linked status directly by its permalink.
	if form.Has("t") {
		if id := statusIDFromValue(form.Get("t")); id != "" {
			if status, err := eng.LookupByID(ctx, sess.UID, id, ""); err == nil {
				s.renderPage(w, sess, render.Format(status, sess.UTCOffset, ""))
				return
			}
		}
		// Not found is a no-op: fall through and refresh the current view.
	}

	// Resolve a link's title on the currently selected status.
	if form.Has("i") {
		if status, err := eng.LookupByID(ctx, sess.UID, currentID, form.Get("i")); err == nil {
			s.renderPage(w, sess, render.Format(status, sess.UTCOffset, ""))
			return
		}
	}

	status, index, err := eng.Navigate(ctx, sess.UID, deltaFromForm(form), currentID)
	page := s.buildPage(sess, status, index, err)

	if form.Has("a") {
		archived, redirected := s.archiveOrAuthorize(ctx, w, r, sess, form.Get("a"), currentID)
		if redirected {
			return
		}
		if archived {
			page.Message = "pocketed"
		}
	}

	s.renderPage(w, sess, page)
}

// deltaFromForm maps a pressed navigation button to a cursor delta.
func deltaFromForm(form url.Values) int {
	switch {
	case form.Has("p"):
		return 1
	case form.Has("n"):
		return -1
	case form.Has("b"):
		return 20
	case form.Has("f"):
		return -20
	case form.Has("s"):
		return timeline.JumpOldest
	case form.Has("e"):
		return timeline.JumpNewest
	}
	return 0
}

// statusIDFromValue accepts a bare status id or a permalink URL.
func statusIDFromValue(v string) string {
	if v == "" {
		return ""
	}
	digits := true
	for _, c := range v {
		if c < '0' || c > '9' {
			digits = false
			break
		}
	}
	if digits {
		return v
	}
	if m := statusPathRegex.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return ""
}

func (s *Server) buildPage(sess *soc.Session, status *soc.Status, index int, err error) *soc.Rendered {
	if err != nil {
		if !errors.Is(err, timeline.ErrEmpty) {
			s.logger.Error("Navigation failed", "uid", sess.UID, "error", err)
		}
		return &soc.Rendered{Message: "timeline unavailable"}
	}
	return render.Format(status, sess.UTCOffset, strconv.Itoa(index))
}

// archiveOrAuthorize archives rawurl, or parks it on the session and
// redirects into the pocket authorization ceremony when the user has no
// token yet.
func (s *Server) archiveOrAuthorize(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *soc.Session, rawurl, tweetID string) (archived, redirected bool) {
	token, err := s.store.PocketToken(ctx, sess.UID)
	if err != nil {
		if s.isNotFound(err) {
			sess.PendingArchiveURL = rawurl
			if err := s.sessions.Save(ctx, sess); err != nil {
				s.logger.Warn("Failed to park archive URL", "uid", sess.UID, "error", err)
			}
			http.Redirect(w, r, "/auth/pocket", http.StatusFound)
			return false, true
		}
		s.logger.Warn("Archive token unavailable", "uid", sess.UID, "error", err)
		return false, false
	}

	if err := s.archiver.Add(ctx, token, rawurl, tweetID); err != nil {
		s.logger.Warn("Archive failed", "uid", sess.UID, "url", rawurl, "error", err)
		return false, false
	}
	return true, false
}

// archiveNow archives without any redirect fallback.
func (s *Server) archiveNow(ctx context.Context, uid, rawurl, tweetID string) bool {
	token, err := s.store.PocketToken(ctx, uid)
	if err != nil {
		s.logger.Warn("Archive token unavailable", "uid", uid, "error", err)
		return false
	}
	if err := s.archiver.Add(ctx, token, rawurl, tweetID); err != nil {
		s.logger.Warn("Archive failed", "uid", uid, "url", rawurl, "error", err)
		return false
	}
	return true
}

func (s *Server) renderPage(w http.ResponseWriter, sess *soc.Session, page *soc.Rendered) {
	setSecurityHeaders(w)
	data := pageData{
		Status: page,
		Night:  sess.Night,
		Base:   s.basePath,
	}
	if err := templates.ExecuteTemplate(w, "root.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "root.tmpl", "error", err)
	}
}
