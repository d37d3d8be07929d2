package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/datapilot/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type ProjectFilter struct {
	Name      string
	CreatedBy string
	Limit     int
}

// VersionFilter selects versions of one project. Results are ordered by
// created_at descending with ties broken by version id ascending.
type VersionFilter struct {
	ProjectID   string
	SnapshotRef string
	Limit       int
}

type SessionFilter struct {
	ProjectID string
	Limit     int
}

// ProjectRepository manages projects.
type ProjectRepository interface {
	Create(ctx context.Context, project domain.Project) error
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
}

// VersionRepository manages write-once version records. CreateVersion must
// fail with ErrConflict when the id already exists.
type VersionRepository interface {
	CreateVersion(ctx context.Context, version domain.Version) error
	GetVersion(ctx context.Context, id string) (domain.Version, error)
	ListVersions(ctx context.Context, filter VersionFilter) ([]domain.Version, error)
	DeleteVersion(ctx context.Context, projectID, id string) error
}

// SessionRepository manages session pointers.
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]domain.Session, error)
	UpdateCurrentVersion(ctx context.Context, id string, versionID string) (domain.Session, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
