package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mustafasegf/pemasak-infra/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	ok, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Fatal("expected correct password to verify")
	}
	ok, err = VerifyPassword("wrong password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestHashPasswordProducesUniqueSalts(t *testing.T) {
	a, _ := HashPassword("same")
	b, _ := HashPassword("same")
	if a == b {
		t.Fatal("expected distinct salts to produce distinct digests")
	}
}

func TestLoginAndSessionRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	hash, _ := HashPassword("hunter2")
	_, _, err := st.CreateUser(ctx, "morty", hash, "Morty")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	g := New(st)
	u, err := g.Login(ctx, "1.2.3.4", "morty", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	cookie, err := g.IssueSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	got, err := g.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.Username != "morty" {
		t.Fatalf("Authenticate() username = %q, want morty", got.Username)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	hash, _ := HashPassword("hunter2")
	_, _, _ = st.CreateUser(ctx, "rick", hash, "Rick")

	g := New(st)
	if _, err := g.Login(ctx, "5.6.7.8", "rick", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyProjectTokenRejectsMissingAuth(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, o, _ := st.CreateUser(ctx, "summer", "hash", "Summer")
	p, _ := st.CreateProject(ctx, o.ID, "app")
	secret, _ := st.CreateProjectToken(ctx, p.ID)

	g := New(st)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if g.VerifyProjectToken(ctx, p.ID, req) {
		t.Fatal("expected request without Basic auth to fail")
	}

	req.SetBasicAuth("deploy", secret)
	if !g.VerifyProjectToken(ctx, p.ID, req) {
		t.Fatal("expected request with correct token to succeed")
	}
}
