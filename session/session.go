// Package session manages cookie-backed login sessions persisted through
// the shared store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mattkenney/soc/pkg/soc"
)

const cookieName = "soc_session"

// Store is the slice of the shared store the manager needs.
type Store interface {
	Session(ctx context.Context, sid string) (*soc.Session, error)
	SaveSession(ctx context.Context, sess *soc.Session) error
	DeleteSession(ctx context.Context, sid string) error
}

// IsNotFound reports whether a store error means "no such session".
type IsNotFound func(error) bool

// Manager loads, creates and destroys sessions.
type Manager struct {
	store      Store
	logger     *slog.Logger
	isNotFound IsNotFound
	maxAge     time.Duration
}

// NewManager creates a session manager. maxAge bounds session lifetime
// from last activity.
func NewManager(store Store, isNotFound IsNotFound, maxAge time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		logger:     logger,
		isNotFound: isNotFound,
		maxAge:     maxAge,
	}
}

// Get returns the request's session, or nil when there is none or it has
// expired. Activity refreshes the expiry clock.
func (m *Manager) Get(ctx context.Context, r *http.Request) (*soc.Session, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, nil
	}

	sess, err := m.store.Session(ctx, cookie.Value)
	if err != nil {
		if m.isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if time.Since(sess.LastSeen) > m.maxAge {
		m.logger.Info("Session expired", "sid", sess.ID, "last_seen", sess.LastSeen.Format(time.RFC3339))
		if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
			m.logger.Warn("Failed to delete expired session", "sid", sess.ID, "error", err)
		}
		return nil, nil
	}

	// Touch at most once a minute to keep writes off the hot path.
	if time.Since(sess.LastSeen) > time.Minute {
		sess.LastSeen = time.Now()
		if err := m.store.SaveSession(ctx, sess); err != nil {
			m.logger.Warn("Failed to refresh session", "sid", sess.ID, "error", err)
		}
	}
	return sess, nil
}

// Create starts a fresh session and sets its cookie.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter) (*soc.Session, error) {
	now := time.Now()
	sess := &soc.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// Save persists session mutations.
func (m *Manager) Save(ctx context.Context, sess *soc.Session) error {
	return m.store.SaveSession(ctx, sess)
}

// Destroy removes the request's session and clears its cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookieName)
	if err == nil {
		if err := m.store.DeleteSession(ctx, cookie.Value); err != nil {
			m.logger.Warn("Failed to delete session", "sid", cookie.Value, "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
