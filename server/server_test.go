package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mattkenney/soc/archive"
	"github.com/mattkenney/soc/pkg/soc"
	"github.com/mattkenney/soc/timeline"
	"github.com/mattkenney/soc/twitter"
)

var errMissing = &missingError{}

type missingError struct{}

func (*missingError) Error() string { return "storage: object doesn't exist" }

type fakeEngine struct {
	status    *soc.Status
	index     int
	navErr    error
	lookupErr error

	gotDelta     int
	gotCurrentID string
	gotLookupID  string
	gotFollowURL string
	navCalls     int
	lookupCalls  int
}

func (f *fakeEngine) Navigate(_ context.Context, _ string, delta int, currentID string) (*soc.Status, int, error) {
	f.navCalls++
	f.gotDelta = delta
	f.gotCurrentID = currentID
	return f.status, f.index, f.navErr
}

func (f *fakeEngine) LookupByID(_ context.Context, _, id, followURL string) (*soc.Status, error) {
	f.lookupCalls++
	f.gotLookupID = id
	f.gotFollowURL = followURL
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.status, nil
}

type fakeSessions struct {
	sess      *soc.Session
	saved     int
	destroyed int
}

func (f *fakeSessions) Get(context.Context, *http.Request) (*soc.Session, error) { return f.sess, nil }

func (f *fakeSessions) Create(context.Context, http.ResponseWriter) (*soc.Session, error) {
	f.sess = &soc.Session{ID: "11111111-2222-4333-a444-555555555555"}
	return f.sess, nil
}

func (f *fakeSessions) Save(context.Context, *soc.Session) error {
	f.saved++
	return nil
}

func (f *fakeSessions) Destroy(context.Context, http.ResponseWriter, *http.Request) error {
	f.destroyed++
	f.sess = nil
	return nil
}

type fakeStore struct {
	pocketToken string
	deleted     int
	swept       int
	sweepErr    error
}

func (f *fakeStore) PocketToken(context.Context, string) (string, error) {
	if f.pocketToken == "" {
		return "", errMissing
	}
	return f.pocketToken, nil
}

func (f *fakeStore) SetPocketToken(_ context.Context, _ string, token string) error {
	f.pocketToken = token
	return nil
}

func (f *fakeStore) DeletePocketToken(context.Context, string) error {
	f.deleted++
	f.pocketToken = ""
	return nil
}

func (f *fakeStore) SweepSessions(context.Context, time.Time) (int, error) {
	return f.swept, f.sweepErr
}

type fakeAuth struct {
	account *twitter.Account
}

func (*fakeAuth) RequestToken(context.Context, string) (string, string, error) {
	return "req-tok", "req-sec", nil
}

func (*fakeAuth) AuthorizeURL(requestToken string) string {
	return "https://upstream.example/authorize?oauth_token=" + requestToken
}

func (*fakeAuth) AccessToken(context.Context, string, string, string) (string, string, error) {
	return "acc-tok", "acc-sec", nil
}

func (f *fakeAuth) Verify(context.Context, string, string) (*twitter.Account, error) {
	return f.account, nil
}

func loggedIn() *soc.Session {
	return &soc.Session{
		ID:       "11111111-2222-4333-a444-555555555555",
		UID:      "123",
		Name:     "alice",
		Token:    "tok",
		Secret:   "sec",
		LastSeen: time.Now(),
	}
}

func isMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "storage: object doesn't exist")
}

type testServer struct {
	*Server
	engine   *fakeEngine
	sessions *fakeSessions
	store    *fakeStore
}

func newTestServer(sess *soc.Session) *testServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := &fakeEngine{
		status: &soc.Status{
			IDStr:     "40",
			Text:      "hello world",
			CreatedAt: "Mon Jan 02 15:04:05 +0000 2006",
			User:      soc.User{Name: "Bob", ScreenName: "bob"},
		},
		index: 2,
	}
	sessions := &fakeSessions{sess: sess}
	store := &fakeStore{}
	srv := New(&Config{
		Engine:         func(string, string) Engine { return engine },
		Auth:           &fakeAuth{account: &twitter.Account{IDStr: "123", ScreenName: "alice", UTCOffset: 0}},
		Archiver:       archive.NewMockProvider(logger),
		Store:          store,
		Sessions:       sessions,
		Logger:         logger,
		IsNotFound:     isMissing,
		BaseURL:        "https://app.example",
		BasePath:       "/",
		SessionTimeout: 24 * time.Hour,
	})
	return &testServer{Server: srv, engine: engine, sessions: sessions, store: store}
}

func postForm(handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestDeltaFromForm(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{name: "previous", form: url.Values{"p": {"p"}}, want: 1},
		{name: "next", form: url.Values{"n": {"n"}}, want: -1},
		{name: "back page", form: url.Values{"b": {"b"}}, want: 20},
		{name: "forward page", form: url.Values{"f": {"f"}}, want: -20},
		{name: "start", form: url.Values{"s": {"s"}}, want: timeline.JumpOldest},
		{name: "end", form: url.Values{"e": {"e"}}, want: timeline.JumpNewest},
		{name: "none", form: url.Values{"id": {"40"}}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deltaFromForm(tt.form); got != tt.want {
				t.Errorf("deltaFromForm() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStatusIDFromValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare id", in: "12345", want: "12345"},
		{name: "permalink", in: "https://twitter.com/alice/status/12345", want: "12345"},
		{name: "permalink with query", in: "https://m.twitter.com/alice/status/12345?s=20", want: "12345"},
		{name: "legacy statuses path", in: "https://twitter.com/alice/statuses/12345", want: "12345"},
		{name: "profile link", in: "https://twitter.com/alice", want: ""},
		{name: "garbage", in: "not a link", want: ""},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusIDFromValue(tt.in); got != tt.want {
				t.Errorf("statusIDFromValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	srv.store.swept = 3

	w := postForm(srv.Handler(), "/sweepz", url.Values{})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"removed":3`) {
		t.Errorf("body = %s", w.Body.String())
	}

	// GET is rejected.
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sweepz", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}

func TestRootRedirectsWhenLoggedOut(t *testing.T) {
	srv := newTestServer(nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/auth/twitter" {
		t.Errorf("Location = %s, want /auth/twitter", got)
	}
}

func TestRootRendersCurrentStatus(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "hello world") {
		t.Errorf("body missing status text: %s", body)
	}
	if !strings.Contains(body, `value="40"`) {
		t.Errorf("body missing hidden id field: %s", body)
	}
	// The persisted index is shown as the page message.
	if !strings.Contains(body, ">2<") {
		t.Errorf("body missing index message: %s", body)
	}
	if srv.engine.gotDelta != 0 || srv.engine.gotCurrentID != "" {
		t.Errorf("GET must refresh in place, got delta %d id %q", srv.engine.gotDelta, srv.engine.gotCurrentID)
	}
}

func TestNavigatePostMapsButtons(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := postForm(srv.Handler(), "/", url.Values{"p": {"p"}, "id": {"40"}})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if srv.engine.gotDelta != 1 || srv.engine.gotCurrentID != "40" {
		t.Errorf("Navigate called with (%d, %q), want (1, 40)", srv.engine.gotDelta, srv.engine.gotCurrentID)
	}
}

func TestNavigateEmptyTimeline(t *testing.T) {
	srv := newTestServer(loggedIn())
	srv.engine.status = nil
	srv.engine.navErr = timeline.ErrEmpty

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "timeline unavailable") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestOpenPermalink(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := postForm(srv.Handler(), "/", url.Values{
		"t":  {"https://twitter.com/bob/status/40"},
		"id": {"50"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if srv.engine.lookupCalls != 1 || srv.engine.gotLookupID != "40" {
		t.Errorf("LookupByID calls = %d id = %q, want 1 call for 40", srv.engine.lookupCalls, srv.engine.gotLookupID)
	}
	if srv.engine.navCalls != 0 {
		t.Errorf("Navigate called %d times on a direct open", srv.engine.navCalls)
	}
}

func TestOpenPermalinkNotFoundFallsBack(t *testing.T) {
	srv := newTestServer(loggedIn())
	srv.engine.lookupErr = timeline.ErrNotFound
	srv.engine.status = &soc.Status{
		IDStr:     "50",
		Text:      "still here",
		CreatedAt: "Mon Jan 02 15:04:05 +0000 2006",
		User:      soc.User{ScreenName: "bob"},
	}

	w := postForm(srv.Handler(), "/", url.Values{
		"t":  {"https://twitter.com/bob/status/40"},
		"id": {"50"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// The failed lookup degrades to a refresh of the current position.
	if srv.engine.navCalls != 1 || srv.engine.gotDelta != 0 {
		t.Errorf("fallback Navigate calls = %d delta = %d, want refresh", srv.engine.navCalls, srv.engine.gotDelta)
	}
}

func TestResolveLinkButton(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := postForm(srv.Handler(), "/", url.Values{
		"i":  {"https://example.com/article"},
		"id": {"40"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if srv.engine.gotLookupID != "40" || srv.engine.gotFollowURL != "https://example.com/article" {
		t.Errorf("LookupByID called with (%q, %q)", srv.engine.gotLookupID, srv.engine.gotFollowURL)
	}
}

func TestArchiveWithToken(t *testing.T) {
	srv := newTestServer(loggedIn())
	srv.store.pocketToken = "tok-1"

	w := postForm(srv.Handler(), "/", url.Values{
		"a":  {"https://example.com/article"},
		"id": {"40"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pocketed") {
		t.Errorf("body missing archive confirmation: %s", w.Body.String())
	}
}

func TestArchiveWithoutTokenStartsAuthorization(t *testing.T) {
	sess := loggedIn()
	srv := newTestServer(sess)

	w := postForm(srv.Handler(), "/", url.Values{
		"a":  {"https://example.com/article"},
		"id": {"40"},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/auth/pocket" {
		t.Errorf("Location = %s, want /auth/pocket", got)
	}
	if sess.PendingArchiveURL != "https://example.com/article" {
		t.Errorf("pending URL = %q", sess.PendingArchiveURL)
	}
}

func TestSettingsButtonRedirects(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := postForm(srv.Handler(), "/", url.Values{"u": {"u"}, "id": {"40"}})

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/auth/info" {
		t.Errorf("got %d %s, want 302 /auth/info", w.Code, w.Header().Get("Location"))
	}
}

func TestInfoPage(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/info", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "alice") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestInfoNightToggle(t *testing.T) {
	sess := loggedIn()
	srv := newTestServer(sess)

	w := postForm(srv.Handler(), "/auth/info", url.Values{"i": {"i"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !sess.Night {
		t.Error("night mode not enabled")
	}
	if srv.sessions.saved == 0 {
		t.Error("session not saved after toggle")
	}
}

func TestInfoLogout(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := postForm(srv.Handler(), "/auth/info", url.Values{"x": {"x"}})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if srv.sessions.destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", srv.sessions.destroyed)
	}
	if got := w.Header().Get("Location"); got != "https://twitter.com/logout" {
		t.Errorf("Location = %s", got)
	}
}

func TestInfoPocketDisconnect(t *testing.T) {
	srv := newTestServer(loggedIn())
	srv.store.pocketToken = "tok-1"

	w := postForm(srv.Handler(), "/auth/info", url.Values{"p": {"p"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if srv.store.deleted != 1 {
		t.Errorf("deleted = %d, want 1", srv.store.deleted)
	}
}

func TestTwitterAuthFlow(t *testing.T) {
	sess := &soc.Session{ID: "11111111-2222-4333-a444-555555555555", LastSeen: time.Now()}
	srv := newTestServer(sess)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/twitter", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); !strings.Contains(got, "oauth_token=req-tok") {
		t.Errorf("Location = %s", got)
	}
	if sess.RequestToken != "req-tok" || sess.RequestSecret != "req-sec" {
		t.Errorf("request token not stored on session: %+v", sess)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?oauth_token=req-tok&oauth_verifier=ver", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Errorf("Location = %s, want /", got)
	}
	if sess.UID != "123" || sess.Token != "acc-tok" || sess.Secret != "acc-sec" {
		t.Errorf("session not filled in: %+v", sess)
	}
	if sess.RequestToken != "" {
		t.Error("request token not cleared after exchange")
	}
}

func TestTwitterCallbackTokenMismatch(t *testing.T) {
	sess := &soc.Session{ID: "11111111-2222-4333-a444-555555555555", RequestToken: "req-tok", LastSeen: time.Now()}
	srv := newTestServer(sess)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?oauth_token=evil&oauth_verifier=ver", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/auth/failure" {
		t.Errorf("got %d %s, want 302 /auth/failure", w.Code, w.Header().Get("Location"))
	}
	if sess.UID != "" {
		t.Error("session filled in despite token mismatch")
	}
}

func TestPocketCallbackStoresToken(t *testing.T) {
	sess := loggedIn()
	sess.PocketCode = "mock-code"
	srv := newTestServer(sess)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/pocket/callback", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Fatalf("got %d %s, want 302 /", w.Code, w.Header().Get("Location"))
	}
	if srv.store.pocketToken != "mock-token" {
		t.Errorf("stored token = %q, want mock-token", srv.store.pocketToken)
	}
	if sess.PocketCode != "" {
		t.Error("pocket code not cleared")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(loggedIn())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
