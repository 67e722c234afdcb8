// Package auth is the CredentialGate: password hashing, session-cookie
// issuance, and per-remote-address backoff that every login and project
// token check goes through (spec section 4.6).
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/mustafasegf/pemasak-infra/internal/store"
)

const (
	sessionCookieName = "pws_session"
	sessionTTL        = 30 * 24 * time.Hour

	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword derives an argon2id digest encoded as
// "$argon2id$v=19$m=...,t=...,p=...$salt$hash", the memory-hard KDF the
// spec requires for user-chosen passwords (unlike project tokens, which are
// high-entropy machine-generated secrets hashed with plain SHA-256, see
// store.CreateProjectToken).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks password against an encoded digest produced by
// HashPassword, re-deriving with the embedded parameters so a future
// parameter bump doesn't break verification of old hashes.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unrecognized password hash format")
	}
	var mem uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return false, fmt.Errorf("parse hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, t, mem, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Gate is the CredentialGate: it owns login rate-limiting state and talks to
// the store for password/session/token checks.
type Gate struct {
	store *store.Store

	mu       sync.Mutex
	failures map[string]*backoffState
}

type backoffState struct {
	count    int
	lastSeen time.Time
}

func New(st *store.Store) *Gate {
	return &Gate{store: st, failures: make(map[string]*backoffState)}
}

// Login verifies a username/password pair, applying a linear backoff per
// remote address: after 3 failures within 60s, each further attempt is
// delayed (capped at 2s) before being checked, to blunt credential
// stuffing without an external rate limiter.
func (g *Gate) Login(ctx context.Context, remoteAddr, username, password string) (store.User, error) {
	g.throttle(remoteAddr)

	u, err := g.store.GetUserByUsername(ctx, username)
	if err != nil {
		g.recordFailure(remoteAddr)
		return store.User{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		g.recordFailure(remoteAddr)
		return store.User{}, ErrInvalidCredentials
	}
	g.clearFailures(remoteAddr)
	return u, nil
}

func (g *Gate) throttle(remoteAddr string) {
	g.mu.Lock()
	st, ok := g.failures[remoteAddr]
	g.mu.Unlock()
	if !ok || time.Since(st.lastSeen) > 60*time.Second {
		return
	}
	if st.count < 3 {
		return
	}
	delay := time.Duration(st.count-2) * 500 * time.Millisecond
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	time.Sleep(delay)
}

func (g *Gate) recordFailure(remoteAddr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.failures[remoteAddr]
	if !ok || time.Since(st.lastSeen) > 60*time.Second {
		st = &backoffState{}
		g.failures[remoteAddr] = st
	}
	st.count++
	st.lastSeen = time.Now()
}

func (g *Gate) clearFailures(remoteAddr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, remoteAddr)
}

// IssueSession creates a session row and returns a cookie ready to be set on
// the login response.
func (g *Gate) IssueSession(ctx context.Context, userID int64) (*http.Cookie, error) {
	sess, err := g.store.CreateSession(ctx, userID, sessionTTL, "")
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionTTL),
	}, nil
}

// Authenticate resolves the session cookie on r into its owning user.
func (g *Gate) Authenticate(r *http.Request) (store.User, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	sess, err := g.store.GetSession(r.Context(), c.Value)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return g.store.GetUserByID(r.Context(), sess.UserID)
}

// Logout deletes the session backing the cookie on r, if any.
func (g *Gate) Logout(r *http.Request) error {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	return g.store.DeleteSession(r.Context(), c.Value)
}

// VerifyProjectToken checks HTTP Basic auth credentials against a project's
// deploy token, used by the git smart-HTTP endpoint (spec section 4.3: the
// git remote is authenticated with "any-username:<project-token>").
func (g *Gate) VerifyProjectToken(ctx context.Context, projectID int64, r *http.Request) bool {
	_, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	valid, err := g.store.VerifyProjectToken(ctx, projectID, password)
	return err == nil && valid
}
