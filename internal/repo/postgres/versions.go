package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/repo"
)

const versionColumns = `version_id, project_id, parent_id, description, program, snapshot_ref, content_sha256, size_bytes, metadata, author, created_at, integrity_sha256`

const (
	insertVersionQuery = `INSERT INTO data_versions (
		version_id,
		project_id,
		parent_id,
		description,
		program,
		snapshot_ref,
		content_sha256,
		size_bytes,
		metadata,
		author,
		created_at,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	selectVersionQuery = `SELECT ` + versionColumns + `
		FROM data_versions
		WHERE version_id = $1`

	listVersionsQuery = `SELECT ` + versionColumns + ` FROM data_versions`

	deleteVersionQuery = `DELETE FROM data_versions WHERE project_id = $1 AND version_id = $2`
)

type rowScanner interface {
	Scan(dest ...any) error
}

type VersionStore struct {
	db DB
}

func NewVersionStore(db DB) *VersionStore {
	if db == nil {
		return nil
	}
	return &VersionStore{db: db}
}

// CreateVersion inserts a version record in a single statement. The primary
// key makes the insert the synchronization point for concurrent writers.
func (s *VersionStore) CreateVersion(ctx context.Context, version domain.Version) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("version store not initialized")
	}
	if err := version.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeSnapshotMetadata(version.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertVersionQuery,
		strings.TrimSpace(version.ID),
		strings.TrimSpace(version.ProjectID),
		nullString(version.ParentID),
		version.Description,
		version.Program,
		strings.TrimSpace(version.SnapshotRef),
		strings.TrimSpace(version.ContentSHA256),
		version.SizeBytes,
		metadataJSON,
		strings.TrimSpace(version.Author),
		normalizeTime(version.CreatedAt),
		strings.TrimSpace(version.IntegritySHA256),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("insert version: %w", repo.ErrConflict)
		case isForeignKeyViolation(err):
			return fmt.Errorf("insert version: project: %w", repo.ErrNotFound)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *VersionStore) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	if s == nil || s.db == nil {
		return domain.Version{}, fmt.Errorf("version store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Version{}, fmt.Errorf("version id is required")
	}
	version, err := scanVersion(s.db.QueryRowContext(ctx, selectVersionQuery, id))
	if err != nil {
		return domain.Version{}, handleNotFound(err)
	}
	return version, nil
}

func (s *VersionStore) ListVersions(ctx context.Context, filter repo.VersionFilter) ([]domain.Version, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("version store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.SnapshotRef) != "" {
		args = append(args, strings.TrimSpace(filter.SnapshotRef))
		clauses = append(clauses, fmt.Sprintf("snapshot_ref = $%d", len(args)))
	}

	query := listVersionsQuery + " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, version_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]domain.Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *VersionStore) DeleteVersion(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("version store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" || id == "" {
		return fmt.Errorf("project id and version id are required")
	}
	res, err := s.db.ExecContext(ctx, deleteVersionQuery, projectID, id)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanVersion(row rowScanner) (domain.Version, error) {
	var (
		version      domain.Version
		parentID     sql.NullString
		metadataJSON []byte
	)
	if err := row.Scan(
		&version.ID,
		&version.ProjectID,
		&parentID,
		&version.Description,
		&version.Program,
		&version.SnapshotRef,
		&version.ContentSHA256,
		&version.SizeBytes,
		&metadataJSON,
		&version.Author,
		&version.CreatedAt,
		&version.IntegritySHA256,
	); err != nil {
		return domain.Version{}, err
	}
	meta, err := decodeSnapshotMetadata(metadataJSON)
	if err != nil {
		return domain.Version{}, fmt.Errorf("decode metadata: %w", err)
	}
	version.ParentID = parentID.String
	version.Metadata = meta
	version.CreatedAt = version.CreatedAt.UTC()
	return version, nil
}
