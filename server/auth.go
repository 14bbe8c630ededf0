package server

import (
	"net/http"
)

type infoData struct {
	Name   string
	Pocket bool
	Night  bool
	Base   string
}

func (s *Server) handleTwitterAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	sess, err := s.sessions.Get(ctx, r)
	if err != nil {
		s.logger.Error("Session load failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		sess, err = s.sessions.Create(ctx, w)
		if err != nil {
			s.logger.Error("Session create failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	token, secret, err := s.auth.RequestToken(ctx, s.baseURL+"/auth/twitter/callback")
	if err != nil {
		s.logger.Error("Request token failed", "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	sess.RequestToken = token
	sess.RequestSecret = secret
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("Failed to save session", "sid", sess.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, s.auth.AuthorizeURL(token), http.StatusFound)
}

func (s *Server) handleTwitterCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.sessions.Get(ctx, r)
	if err != nil {
		s.logger.Error("Session load failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sess == nil || sess.RequestToken == "" {
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	// The upstream must hand back the same request token we sent out.
	if r.URL.Query().Get("oauth_token") != sess.RequestToken {
		s.logger.Warn("OAuth token mismatch", "sid", sess.ID)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	token, secret, err := s.auth.AccessToken(ctx, sess.RequestToken, sess.RequestSecret, r.URL.Query().Get("oauth_verifier"))
	if err != nil {
		s.logger.Error("Access token exchange failed", "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	account, err := s.auth.Verify(ctx, token, secret)
	if err != nil {
		s.logger.Error("Credential verification failed", "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	sess.UID = account.IDStr
	sess.Name = account.ScreenName
	sess.UTCOffset = account.UTCOffset
	sess.Token = token
	sess.Secret = secret
	sess.RequestToken = ""
	sess.RequestSecret = ""
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("Failed to save session", "sid", sess.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("User logged in", "uid", sess.UID, "name", sess.Name)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	w.WriteHeader(http.StatusUnauthorized)
	if err := templates.ExecuteTemplate(w, "failure.tmpl", nil); err != nil {
		s.logger.Error("Failed to render template", "template", "failure.tmpl", "error", err)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		// fall through to render below
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		form := r.PostForm

		switch {
		case form.Has("x"):
			if err := s.sessions.Destroy(ctx, w, r); err != nil {
				s.logger.Warn("Session destroy failed", "sid", sess.ID, "error", err)
			}
			http.Redirect(w, r, "https://twitter.com/logout", http.StatusFound)
			return
		case form.Has("p"):
			if _, err := s.store.PocketToken(ctx, sess.UID); err == nil {
				if err := s.store.DeletePocketToken(ctx, sess.UID); err != nil {
					s.logger.Warn("Failed to delete archive token", "uid", sess.UID, "error", err)
				}
			} else if s.isNotFound(err) {
				http.Redirect(w, r, "/auth/pocket", http.StatusFound)
				return
			} else {
				s.logger.Warn("Archive token unavailable", "uid", sess.UID, "error", err)
			}
		case form.Has("i"):
			sess.Night = !sess.Night
			if err := s.sessions.Save(ctx, sess); err != nil {
				s.logger.Warn("Failed to save session", "sid", sess.ID, "error", err)
			}
		default:
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pocket := false
	if _, err := s.store.PocketToken(ctx, sess.UID); err == nil {
		pocket = true
	} else if !s.isNotFound(err) {
		s.logger.Warn("Archive token unavailable", "uid", sess.UID, "error", err)
	}

	setSecurityHeaders(w)
	data := infoData{
		Name:   sess.Name,
		Pocket: pocket,
		Night:  sess.Night,
		Base:   s.basePath,
	}
	if err := templates.ExecuteTemplate(w, "info.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "info.tmpl", "error", err)
	}
}

func (s *Server) handlePocketAuth(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	redirectURI := s.baseURL + "/auth/pocket/callback"
	code, err := s.archiver.RequestCode(ctx, redirectURI)
	if err != nil {
		s.logger.Error("Archive request code failed", "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	sess.PocketCode = code
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("Failed to save session", "sid", sess.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, s.archiver.AuthorizeURL(code, redirectURI), http.StatusFound)
}

func (s *Server) handlePocketCallback(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	if sess.PocketCode == "" {
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	token, err := s.archiver.AccessToken(ctx, sess.PocketCode)
	if err != nil {
		s.logger.Error("Archive access token failed", "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	if err := s.store.SetPocketToken(ctx, sess.UID, token); err != nil {
		s.logger.Error("Failed to save archive token", "uid", sess.UID, "error", err)
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	sess.PocketCode = ""
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Warn("Failed to save session", "sid", sess.ID, "error", err)
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
