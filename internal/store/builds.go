package store

import (
	"context"
	"database/sql"

	"github.com/mustafasegf/pemasak-infra/internal/idgen"
)

// CreateBuild inserts a new pending build for a project, ULID-keyed so that
// build IDs sort lexically by creation time (spec section 4.2).
func (s *Store) CreateBuild(ctx context.Context, projectID int64) (Build, error) {
	id := idgen.New()
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (id, project_id, status, log, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
	`, string(id), projectID, string(BuildPending), ts, ts)
	if err != nil {
		return Build{}, err
	}
	return s.GetBuild(ctx, string(id))
}

func (s *Store) GetBuild(ctx context.Context, id string) (Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, log, created_at, updated_at, finished_at
		FROM builds WHERE id = ?
	`, id)
	return scanBuild(row)
}

func scanBuild(row *sql.Row) (Build, error) {
	var b Build
	var status, created, updated string
	var finished sql.NullString
	if err := row.Scan(&b.ID, &b.ProjectID, &status, &b.Log, &created, &updated, &finished); err != nil {
		return Build{}, wrapNoRows(err)
	}
	b.Status = BuildStatus(status)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	b.FinishedAt = parseTimePtr(finished)
	return b, nil
}

// ListBuilds returns up to 100 of a project's most recent builds, newest
// first, paginated by created_at/id so ties within the same millisecond
// still sort deterministically.
func (s *Store) ListBuilds(ctx context.Context, projectID int64) ([]Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, status, log, created_at, updated_at, finished_at
		FROM builds WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 100
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var status, created, updated string
		var finished sql.NullString
		if err := rows.Scan(&b.ID, &b.ProjectID, &status, &b.Log, &created, &updated, &finished); err != nil {
			return nil, err
		}
		b.Status = BuildStatus(status)
		b.CreatedAt = parseTime(created)
		b.UpdatedAt = parseTime(updated)
		b.FinishedAt = parseTimePtr(finished)
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestPendingOrBuilding returns the most recent build still in flight
// (pending or building) for a project.
func (s *Store) LatestPendingOrBuilding(ctx context.Context, projectID int64) (Build, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, log, created_at, updated_at, finished_at
		FROM builds
		WHERE project_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, projectID, string(BuildPending), string(BuildBuilding))
	return scanBuild(row)
}

// TransitionBuilding moves a build from pending to building, guarded by the
// WHERE clause so two callers racing on the same build never both win.
func (s *Store) TransitionBuilding(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(BuildBuilding), now(), id, string(BuildPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendBuildLog appends a chunk of build output, used as the build runs so
// the Control API can stream partial logs (spec section 4.2).
func (s *Store) AppendBuildLog(ctx context.Context, id, chunk string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET log = log || ?, updated_at = ? WHERE id = ?
	`, chunk, now(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// FinishBuild marks a build terminal (successful or failed).
func (s *Store) FinishBuild(ctx context.Context, id string, status BuildStatus) error {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?
	`, string(status), ts, ts, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// SupersedeOlderPending marks every pending build for a project that was
// inserted before keepID failed with a superseded note, implementing
// newest-wins coalescing: once a build starts, any older build still waiting
// is moot. Insertion order is the table's rowid, since ULIDs created within
// the same millisecond do not sort by creation.
func (s *Store) SupersedeOlderPending(ctx context.Context, projectID int64, keepID string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = ?, log = log || ?, updated_at = ?, finished_at = ?
		WHERE project_id = ? AND status = ?
			AND rowid < (SELECT rowid FROM builds WHERE id = ?)
	`, string(BuildFailed), "\nsuperseded by a newer build\n", ts, ts, projectID, string(BuildPending), keepID)
	return err
}

// MarkAllBuildingAsFailed fails every build left in the "building" state,
// run once at Orchestrator start-up to recover from builds that were
// in-flight when the process last stopped (spec section 4.7).
func (s *Store) MarkAllBuildingAsFailed(ctx context.Context) (int64, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = ?, log = log || ?, updated_at = ?, finished_at = ?
		WHERE status = ?
	`, string(BuildFailed), "\ninterrupted by process restart\n", ts, ts, string(BuildBuilding))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
