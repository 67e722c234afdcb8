package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mustafasegf/pemasak-infra/internal/naming"
)

// ErrInvalidName is returned when a project name fails naming.ValidProjectName.
var ErrInvalidName = errors.New("invalid project name")

// ErrNameTaken is returned when owner_id+name collides with a live project.
var ErrNameTaken = errors.New("project name already in use for this owner")

// CreateProject inserts a new project in the "empty" state (spec section 4.1:
// a project starts empty until its first successful build).
func (s *Store) CreateProject(ctx context.Context, ownerID int64, name string) (Project, error) {
	if !naming.ValidProjectName(name) {
		return Project{}, ErrInvalidName
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (owner_id, name, env, state, created_at, updated_at)
		VALUES (?, ?, '{}', ?, ?, ?)
	`, ownerID, name, string(ProjectStateEmpty), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return Project{}, ErrNameTaken
		}
		return Project{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Project{}, err
	}
	return s.GetProjectByID(ctx, id)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps the sqlite3 error text; a constraint failure
	// always contains this substring regardless of which index fired.
	return err != nil && contains(err.Error(), "UNIQUE constraint failed")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

const projectSelect = `
	SELECT p.id, p.owner_id, o.name, p.name, p.env, p.state, p.created_at, p.updated_at
	FROM projects p JOIN owners o ON o.id = p.owner_id
`

func (s *Store) GetProjectByID(ctx context.Context, id int64) (Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+` WHERE p.id = ? AND p.deleted_at IS NULL`, id)
	return scanProject(row)
}

func (s *Store) GetProject(ctx context.Context, ownerName, projectName string) (Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+`
		WHERE o.name = ? AND p.name = ? AND p.deleted_at IS NULL
	`, ownerName, projectName)
	return scanProject(row)
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var state, envBlob, created, updated string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.OwnerName, &p.Name, &envBlob, &state, &created, &updated); err != nil {
		return Project{}, wrapNoRows(err)
	}
	p.State = ProjectState(state)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	p.Env = map[string]string{}
	if envBlob != "" {
		_ = json.Unmarshal([]byte(envBlob), &p.Env)
	}
	return p, nil
}

// ListProjectsForUser returns every project owned by an owner the user
// belongs to, for the dashboard listing.
func (s *Store) ListProjectsForUser(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+`
		JOIN user_owners uo ON uo.owner_id = p.owner_id
		WHERE uo.user_id = ? AND p.deleted_at IS NULL
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var state, envBlob, created, updated string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.OwnerName, &p.Name, &envBlob, &state, &created, &updated); err != nil {
			return nil, err
		}
		p.State = ProjectState(state)
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		p.Env = map[string]string{}
		if envBlob != "" {
			_ = json.Unmarshal([]byte(envBlob), &p.Env)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectState performs a state-machine transition (spec section 4.1).
// Callers are responsible for checking the transition is legal; this is a
// plain write, not a guarded compare-and-swap. Its callers are a finishing
// build (Builder) and the Control API's stop endpoint.
func (s *Store) SetProjectState(ctx context.Context, id int64, state ProjectState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET state = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, string(state), now(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProjectEnv replaces the full env map for a project.
func (s *Store) SetProjectEnv(ctx context.Context, id int64, env map[string]string) error {
	blob, err := json.Marshal(env)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET env = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, string(blob), now(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// SetProjectEnvVar sets a single key, validating it against naming rules
// (spec section 4.4: env keys/values are validated on write).
func (s *Store) SetProjectEnvVar(ctx context.Context, id int64, key, value string) error {
	if !naming.ValidEnvKey(key) {
		return fmt.Errorf("invalid env key %q", key)
	}
	if !naming.ValidEnvValue(value) {
		return fmt.Errorf("env value exceeds %d bytes", naming.MaxEnvValueBytes)
	}
	p, err := s.GetProjectByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}
	p.Env[key] = value
	return s.SetProjectEnv(ctx, id, p.Env)
}

// DeleteProjectEnvVar removes a single key from a project's env map.
func (s *Store) DeleteProjectEnvVar(ctx context.Context, id int64, key string) error {
	p, err := s.GetProjectByID(ctx, id)
	if err != nil {
		return err
	}
	delete(p.Env, key)
	return s.SetProjectEnv(ctx, id, p.Env)
}

// DeleteProject soft-deletes a project, freeing its name for reuse under the
// same owner (the partial unique index only covers deleted_at IS NULL rows).
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, now(), now(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
