package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/smartstream/internal/store"
)

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "id.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesCookieAndUser(t *testing.T) {
	repo := newRepo(t)

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if !IsValidAnonID(seen) {
		t.Fatalf("user id in context = %q, want anon id", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != seen {
		t.Fatalf("cookies = %+v, want %s=%s", cookies, AnonCookieName, seen)
	}

	user, err := repo.GetUser(t.Context(), seen)
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v; want stored user", user, err)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := newRepo(t)
	id, err := GenerateAnonID()
	if err != nil {
		t.Fatal(err)
	}

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != id {
		t.Fatalf("user id = %q, want %q", seen, id)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	repo := newRepo(t)

	var seen string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen == "admin" || !IsValidAnonID(seen) {
		t.Fatalf("user id = %q, want freshly generated id", seen)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("cookie should be Secure outside development, got %+v", c)
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := t.Context()

	first, err := EnsureUser(ctx, repo, "anon_00000000000000000000000000000000")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if err := repo.UpdateUserName(ctx, first.UserID, "Ada"); err != nil {
		t.Fatal(err)
	}
	second, err := EnsureUser(ctx, repo, first.UserID)
	if err != nil {
		t.Fatalf("second EnsureUser() error = %v", err)
	}
	if second.UserName != "Ada" {
		t.Errorf("UserName = %q, existing user should not be reset", second.UserName)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Errorf("IPFromRequest() = %q", got)
	}
}
