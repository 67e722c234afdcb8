package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// CreateProjectToken generates a random deploy-token secret, stores only its
// SHA-256 digest, and returns the plaintext once (spec section 4.3: project
// tokens are shown exactly one time). Unlike user passwords these are
// high-entropy machine-generated secrets rather than user-chosen ones, so a
// plain fast digest is sufficient and an argon2 KDF would only add needless
// CPU cost on every git push.
func (s *Store) CreateProjectToken(ctx context.Context, projectID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate project token: %w", err)
	}
	secret := "pws_" + hex.EncodeToString(raw)
	hash := hashToken(secret)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_tokens (project_id, token_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET token_hash = excluded.token_hash, created_at = excluded.created_at
	`, projectID, hash, now())
	if err != nil {
		return "", err
	}
	return secret, nil
}

// VerifyProjectToken reports whether secret matches the stored token for
// projectID, using a constant-time comparison of the digests.
func (s *Store) VerifyProjectToken(ctx context.Context, projectID int64, secret string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token_hash FROM project_tokens WHERE project_id = ?`, projectID)
	var stored string
	if err := row.Scan(&stored); err != nil {
		return false, wrapNoRows(err)
	}
	want := hashToken(secret)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(want)) == 1, nil
}

func hashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
