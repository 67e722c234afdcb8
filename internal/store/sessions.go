package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// CreateSession issues a new session id and stores it with an optional
// expiry and an opaque JSON blob (spec section 4.6: sessions back the
// browser-facing cookie-auth login flow).
func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration, blob string) (Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	id := hex.EncodeToString(raw)
	if blob == "" {
		blob = "{}"
	}
	ts := now()
	var expires sql.NullString
	if ttl > 0 {
		expires = sql.NullString{String: time.Now().UTC().Add(ttl).Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, blob, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, userID, expires, blob, ts)
	if err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, id)
}

// GetSession looks up a session by id. A session past its expiry is treated
// as not found rather than being lazily deleted here; expired rows are swept
// by DeleteExpiredSessions during the Orchestrator's start-up reconcile.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, blob, created_at FROM sessions WHERE id = ?
	`, id)
	var sess Session
	var expires sql.NullString
	var created string
	if err := row.Scan(&sess.ID, &sess.UserID, &expires, &sess.Blob, &created); err != nil {
		return Session{}, wrapNoRows(err)
	}
	sess.CreatedAt = parseTime(created)
	sess.ExpiresAt = parseTimePtr(expires)
	if sess.ExpiresAt != nil && sess.ExpiresAt.Before(time.Now().UTC()) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteExpiredSessions prunes sessions past their expiry, called once from
// the Orchestrator's start-up reconcile pass.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?
	`, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
