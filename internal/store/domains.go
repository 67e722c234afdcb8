package store

import "context"

// UpsertDomain records (or updates) the single live domain for a project.
// The unique index on project_id enforces the "at most one domain per
// project" invariant (spec section 3.4) at the database layer.
func (s *Store) UpsertDomain(ctx context.Context, projectID int64, host string, containerPort int, containerIP, dbURL string) (Domain, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domains (project_id, host, container_port, container_ip, db_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			host = excluded.host,
			container_port = excluded.container_port,
			container_ip = excluded.container_ip,
			db_url = excluded.db_url,
			updated_at = excluded.updated_at
	`, projectID, host, containerPort, containerIP, dbURL, ts, ts)
	if err != nil {
		return Domain{}, err
	}
	return s.GetDomainByProject(ctx, projectID)
}

func (s *Store) GetDomainByProject(ctx context.Context, projectID int64) (Domain, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, host, container_port, container_ip, COALESCE(db_url, ''), created_at, updated_at
		FROM domains WHERE project_id = ?
	`, projectID)
	return scanDomain(row)
}

func (s *Store) GetDomainByHost(ctx context.Context, host string) (Domain, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, host, container_port, container_ip, COALESCE(db_url, ''), created_at, updated_at
		FROM domains WHERE host = ?
	`, host)
	return scanDomain(row)
}

func scanDomain(row interface {
	Scan(dest ...any) error
}) (Domain, error) {
	var d Domain
	var created, updated string
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Host, &d.ContainerPort, &d.ContainerIP, &d.DBURL, &created, &updated); err != nil {
		return Domain{}, wrapNoRows(err)
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func (s *Store) DeleteDomain(ctx context.Context, projectID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE project_id = ?`, projectID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
