package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateUser inserts a user row and its personal owner in one transaction,
// satisfying the invariant that "every user has a personal owner created
// with the account" (spec section 3).
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, displayName string) (User, Owner, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, Owner{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, display_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, username, passwordHash, displayName, string(RoleUser), ts, ts)
	if err != nil {
		return User{}, Owner{}, err
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return User{}, Owner{}, err
	}

	ownerRes, err := tx.ExecContext(ctx, `
		INSERT INTO owners (name, created_at, updated_at) VALUES (?, ?, ?)
	`, username, ts, ts)
	if err != nil {
		return User{}, Owner{}, err
	}
	ownerID, err := ownerRes.LastInsertId()
	if err != nil {
		return User{}, Owner{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_owners (user_id, owner_id) VALUES (?, ?)
	`, userID, ownerID); err != nil {
		return User{}, Owner{}, err
	}

	if err := tx.Commit(); err != nil {
		return User{}, Owner{}, err
	}

	return User{
			ID: userID, Username: username, PasswordHash: passwordHash,
			DisplayName: displayName, Role: RoleUser,
		}, Owner{
			ID: ownerID, Name: username,
		}, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, role, created_at, updated_at, deleted_at
		FROM users WHERE username = ? AND deleted_at IS NULL
	`, username)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, role, created_at, updated_at, deleted_at
		FROM users WHERE id = ? AND deleted_at IS NULL
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var role, created, updated string
	var deleted sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &role, &created, &updated, &deleted); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	u.DeletedAt = parseTimePtr(deleted)
	return u, nil
}

// GetOwnerByName looks up a live owner by its namespace name.
func (s *Store) GetOwnerByName(ctx context.Context, name string) (Owner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM owners WHERE name = ?
	`, name)
	var o Owner
	var created, updated string
	if err := row.Scan(&o.ID, &o.Name, &created, &updated); err != nil {
		return Owner{}, err
	}
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return o, nil
}

// UserOwnsOwner reports whether userID is a member of ownerID, used to
// authorize project-creation and per-project Control API requests.
func (s *Store) UserOwnsOwner(ctx context.Context, userID, ownerID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM user_owners WHERE user_id = ? AND owner_id = ?
	`, userID, ownerID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ErrNotFound is returned by lookups with no matching row; handlers map it
// to apierror.NotFound.
var ErrNotFound = errors.New("not found")

func wrapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w", ErrNotFound)
	}
	return err
}
