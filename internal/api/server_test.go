package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mustafasegf/pemasak-infra/internal/auth"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	s := New(st, auth.New(st), nil, nil, nil, nil, "pemasak.dev", t.TempDir(), nil)
	return s, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLoginFlow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/register", registerRequest{
		Username: "alice", Password: "hunter2", Name: "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/login", loginRequest{Username: "alice", Password: "hunter2"})
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected login to set a session cookie")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	doJSON(t, h, http.MethodPost, "/api/register", registerRequest{Username: "bob", Password: "right", Name: "Bob"})
	rec := doJSON(t, h, http.MethodPost, "/api/login", loginRequest{Username: "bob", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProjectLifecycleRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/dashboard/project/", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a session", rec.Code)
	}
}

func TestCreateAndFetchProject(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Router()

	doJSON(t, h, http.MethodPost, "/api/register", registerRequest{Username: "carol", Password: "pw123456", Name: "Carol"})
	login := doJSON(t, h, http.MethodPost, "/api/login", loginRequest{Username: "carol", Password: "pw123456"})
	cookie := login.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/api/project/new", jsonBody(t, projectNewRequest{Owner: "carol", Project: "app"}))
	req.AddCookie(cookie)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project status = %d, body = %s", rec.Code, rec.Body.String())
	}

	ps, err := st.ListProjectsForUser(req.Context(), mustUserID(t, st, "carol"))
	if err != nil || len(ps) != 1 {
		t.Fatalf("ListProjectsForUser() = %v, %v", ps, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/dashboard/project/", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard project list status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

func mustUserID(t *testing.T, st *store.Store, username string) int64 {
	t.Helper()
	u, err := st.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	return u.ID
}
