package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattkenney/soc/pkg/soc"
)

var errMissing = errors.New("storage: object doesn't exist")

type memStore struct {
	sessions map[string]*soc.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*soc.Session)}
}

func (m *memStore) Session(_ context.Context, sid string) (*soc.Session, error) {
	sess, ok := m.sessions[sid]
	if !ok {
		return nil, errMissing
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) SaveSession(_ context.Context, sess *soc.Session) error {
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, sid string) error {
	delete(m.sessions, sid)
	return nil
}

func isMissing(err error) bool { return errors.Is(err, errMissing) }

func newTestManager(store Store) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, isMissing, 24*time.Hour, logger)
}

func requestWithCookie(sid string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if sid != "" {
		r.AddCookie(&http.Cookie{Name: cookieName, Value: sid})
	}
	return r
}

func TestGetWithoutCookie(t *testing.T) {
	m := newTestManager(newMemStore())
	sess, err := m.Get(context.Background(), requestWithCookie(""))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Errorf("Get() = %+v, want nil", sess)
	}
}

func TestGetUnknownSession(t *testing.T) {
	m := newTestManager(newMemStore())
	sess, err := m.Get(context.Background(), requestWithCookie("nope"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Errorf("Get() = %+v, want nil", sess)
	}
}

func TestCreateThenGet(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	w := httptest.NewRecorder()

	created, err := m.Create(context.Background(), w)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() produced empty session id")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Create() did not set a session cookie")
	}
	if cookie.Value != created.ID {
		t.Errorf("cookie value = %q, want %q", cookie.Value, created.ID)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = %+v", cookie)
	}

	got, err := m.Get(context.Background(), requestWithCookie(created.ID))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("Get() = %+v, want session %s", got, created.ID)
	}
}

func TestGetExpiredSessionIsDeleted(t *testing.T) {
	store := newMemStore()
	store.sessions["old"] = &soc.Session{ID: "old", UID: "123", LastSeen: time.Now().Add(-48 * time.Hour)}
	m := newTestManager(store)

	sess, err := m.Get(context.Background(), requestWithCookie("old"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Errorf("Get() = %+v, want nil for expired session", sess)
	}
	if _, ok := store.sessions["old"]; ok {
		t.Error("expired session was not deleted")
	}
}

func TestGetTouchesStaleLastSeen(t *testing.T) {
	store := newMemStore()
	before := time.Now().Add(-10 * time.Minute)
	store.sessions["live"] = &soc.Session{ID: "live", UID: "123", LastSeen: before}
	m := newTestManager(store)

	if _, err := m.Get(context.Background(), requestWithCookie("live")); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !store.sessions["live"].LastSeen.After(before) {
		t.Error("LastSeen was not refreshed")
	}
}

func TestDestroy(t *testing.T) {
	store := newMemStore()
	store.sessions["gone"] = &soc.Session{ID: "gone", UID: "123", LastSeen: time.Now()}
	m := newTestManager(store)
	w := httptest.NewRecorder()

	if err := m.Destroy(context.Background(), w, requestWithCookie("gone")); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, ok := store.sessions["gone"]; ok {
		t.Error("session not deleted")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.MaxAge != -1 {
		t.Errorf("cookie not cleared: %+v", cookie)
	}
}
