package versions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/datapilot/internal/dataset"
	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
	"github.com/animus-labs/datapilot/internal/platform/logger"
	"github.com/animus-labs/datapilot/internal/platform/requestid"
	"github.com/animus-labs/datapilot/internal/repo"
	"github.com/animus-labs/datapilot/internal/storage/blob"
)

const (
	defaultAuthor  = "system"
	branchPrefix   = "branch: "
	programSummary = 200
)

// CreateVersionInput describes one mutation to record. Program is empty for
// the initial upload of a project.
type CreateVersionInput struct {
	ProjectID    string
	ParentID     string
	Description  string
	Program      string
	SnapshotPath string
	Author       string
}

// Manager coordinates version records and snapshot blobs.
type Manager struct {
	cfg      Config
	projects repo.ProjectRepository
	versions repo.VersionRepository
	store    blob.Store
	bucket   string
	audit    repo.AuditEventAppender
	log      *logger.Logger
	now      func() time.Time
}

func NewManager(cfg Config, projects repo.ProjectRepository, versions repo.VersionRepository, store blob.Store, bucket string, audit repo.AuditEventAppender, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if projects == nil {
		return nil, errors.New("project repository is required")
	}
	if versions == nil {
		return nil, errors.New("version repository is required")
	}
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		projects: projects,
		versions: versions,
		store:    store,
		bucket:   bucket,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}, nil
}

func (m *Manager) CreateProject(ctx context.Context, name, description, author string) (domain.Project, error) {
	const op = "versions.create_project"
	now := m.now().UTC().Truncate(time.Microsecond)
	project := domain.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   authorOrDefault(author),
	}
	if err := project.Validate(); err != nil {
		return domain.Project{}, domain.WrapError(domain.KindValidation, op, err)
	}
	if err := m.projects.Create(ctx, project); err != nil {
		return domain.Project{}, mapRepoError(op, err)
	}
	m.appendAudit(ctx, auditlog.ProjectCreated(project))
	return project, nil
}

func (m *Manager) GetProject(ctx context.Context, id string) (domain.Project, error) {
	project, err := m.projects.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Project{}, mapRepoError("versions.get_project", err)
	}
	return project, nil
}

// ListProjects returns projects newest first. A negative limit is rejected;
// zero means no limit.
func (m *Manager) ListProjects(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	const op = "versions.list_projects"
	if filter.Limit < 0 {
		return nil, domain.NewError(domain.KindValidation, op, "limit must be >= 0")
	}
	filter.Name = strings.TrimSpace(filter.Name)
	filter.CreatedBy = strings.TrimSpace(filter.CreatedBy)
	projects, err := m.projects.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return projects, nil
}

func (m *Manager) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	const op = "versions.get"
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "version id is required")
	}
	version, err := m.versions.GetVersion(ctx, id)
	if err != nil {
		return domain.Version{}, mapRepoError(op, err)
	}
	return version, nil
}

// LatestVersion returns the most recent version of a project.
func (m *Manager) LatestVersion(ctx context.Context, projectID string) (domain.Version, error) {
	const op = "versions.latest"
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "project id is required")
	}
	list, err := m.versions.ListVersions(ctx, repo.VersionFilter{ProjectID: projectID, Limit: 1})
	if err != nil {
		return domain.Version{}, mapRepoError(op, err)
	}
	if len(list) == 0 {
		return domain.Version{}, domain.NewError(domain.KindNotFound, op, "project has no versions")
	}
	return list[0], nil
}

// CreateVersion stores the snapshot at input.SnapshotPath and records it as
// a new version. Nothing is recorded when the upload fails.
func (m *Manager) CreateVersion(ctx context.Context, input CreateVersionInput) (domain.Version, error) {
	const op = "versions.create"
	projectID := strings.TrimSpace(input.ProjectID)
	description := strings.TrimSpace(input.Description)
	parentID := strings.TrimSpace(input.ParentID)
	if projectID == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "project id is required")
	}
	if description == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "description is required")
	}
	if strings.TrimSpace(input.SnapshotPath) == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "snapshot path is required")
	}

	if _, err := m.projects.Get(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Version{}, domain.NewError(domain.KindValidation, op, fmt.Sprintf("project %s does not exist", projectID))
		}
		return domain.Version{}, mapRepoError(op, err)
	}
	if parentID != "" {
		parent, err := m.versions.GetVersion(ctx, parentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Version{}, domain.NewError(domain.KindValidation, op, fmt.Sprintf("parent version %s does not exist", parentID))
			}
			return domain.Version{}, mapRepoError(op, err)
		}
		if parent.ProjectID != projectID {
			return domain.Version{}, domain.NewError(domain.KindValidation, op, "parent version belongs to another project")
		}
	}

	snap, err := m.prepareSnapshot(input.SnapshotPath)
	if err != nil {
		return domain.Version{}, err
	}
	defer snap.cleanup()

	createdAt := m.now().UTC().Truncate(time.Microsecond)
	id := deriveVersionID(projectID, description, input.Program, createdAt)
	version := domain.Version{
		ID:            id,
		ProjectID:     projectID,
		ParentID:      parentID,
		Description:   description,
		Program:       input.Program,
		SnapshotRef:   snapshotKey(projectID, id),
		ContentSHA256: snap.sha256,
		SizeBytes:     snap.size,
		Metadata:      snap.metadata,
		Author:        authorOrDefault(input.Author),
		CreatedAt:     createdAt,
	}
	if err := m.ensureUnusedID(ctx, op, version.ID); err != nil {
		return domain.Version{}, err
	}
	if err := m.uploadSnapshot(ctx, version.SnapshotRef, snap.path, snap.size); err != nil {
		return domain.Version{}, domain.WrapError(domain.KindStorage, op, err)
	}
	if err := m.insert(ctx, op, &version); err != nil {
		m.discardSnapshot(ctx, version.SnapshotRef)
		return domain.Version{}, err
	}

	m.log.Info("version created", "project_id", projectID, "version_id", version.ID, "parent_id", parentID, "rows", version.Metadata.Rows)
	m.appendAudit(ctx, auditlog.VersionCreated(version))
	m.enforceRetention(ctx, projectID)
	return version, nil
}

// insert fills the integrity hash and writes the record.
func (m *Manager) insert(ctx context.Context, op string, version *domain.Version) error {
	integrity, err := versionIntegritySHA256(*version)
	if err != nil {
		return domain.WrapError(domain.KindIntegrity, op, err)
	}
	version.IntegritySHA256 = integrity
	if err := version.Validate(); err != nil {
		return domain.WrapError(domain.KindValidation, op, err)
	}
	if err := m.versions.CreateVersion(ctx, *version); err != nil {
		switch {
		case errors.Is(err, repo.ErrConflict):
			return domain.NewError(domain.KindIntegrity, op, fmt.Sprintf("version id %s collides with an existing version", version.ID))
		case errors.Is(err, repo.ErrNotFound):
			return domain.NewError(domain.KindValidation, op, fmt.Sprintf("project %s does not exist", version.ProjectID))
		default:
			return domain.WrapError(domain.KindStorage, op, err)
		}
	}
	return nil
}

func (m *Manager) ensureUnusedID(ctx context.Context, op, id string) error {
	_, err := m.versions.GetVersion(ctx, id)
	switch {
	case err == nil:
		return domain.NewError(domain.KindIntegrity, op, fmt.Sprintf("version id %s collides with an existing version", id))
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return domain.WrapError(domain.KindStorage, op, err)
	}
}

// uploadSnapshot writes the snapshot under its version's key and checks the
// stored object has the expected size. A short object is removed.
func (m *Manager) uploadSnapshot(ctx context.Context, key, path string, size int64) error {
	if _, err := blob.PutFile(ctx, m.store, m.bucket, key, path, dataset.ContentType); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	info, err := m.store.Stat(ctx, m.bucket, key)
	if err != nil {
		return fmt.Errorf("stat uploaded snapshot: %w", err)
	}
	if info.Size != size {
		if err := m.store.Delete(ctx, m.bucket, key); err != nil {
			m.log.Warn("partial snapshot delete failed", "key", key, "error", err)
		}
		return fmt.Errorf("uploaded snapshot %s has %d bytes, want %d", key, info.Size, size)
	}
	return nil
}

// discardSnapshot removes an object whose record was never written.
func (m *Manager) discardSnapshot(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, m.bucket, key); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
		m.log.Warn("orphan snapshot delete failed", "key", key, "error", err)
	}
}

type preparedSnapshot struct {
	path     string
	sha256   string
	size     int64
	metadata domain.SnapshotMetadata
	cleanup  func()
}

// prepareSnapshot profiles the input and returns the path of its canonical
// CSV encoding. CSV input is stored byte for byte; other formats are
// re-encoded.
func (m *Manager) prepareSnapshot(path string) (preparedSnapshot, error) {
	const op = "versions.snapshot"
	format, err := dataset.FormatFromPath(path)
	if err != nil {
		return preparedSnapshot{}, err
	}
	frame, err := dataset.Load(path)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return preparedSnapshot{}, domain.NewError(domain.KindValidation, op, fmt.Sprintf("snapshot file %s does not exist", path))
		}
		if domain.KindOf(err) != "" {
			return preparedSnapshot{}, err
		}
		return preparedSnapshot{}, domain.WrapError(domain.KindValidation, op, err)
	}
	snap := preparedSnapshot{path: path, metadata: frame.Profile(), cleanup: func() {}}
	if format != dataset.FormatCSV {
		dir, err := os.MkdirTemp(m.cfg.ScratchDir, "datapilot-snapshot-")
		if err != nil {
			return preparedSnapshot{}, domain.WrapError(domain.KindStorage, op, err)
		}
		snap.cleanup = func() { _ = os.RemoveAll(dir) }
		snap.path = filepath.Join(dir, "snapshot.csv")
		if err := dataset.WriteFile(snap.path, frame); err != nil {
			snap.cleanup()
			return preparedSnapshot{}, domain.WrapError(domain.KindStorage, op, err)
		}
	}
	snap.sha256, snap.size, err = hashFile(snap.path)
	if err != nil {
		snap.cleanup()
		return preparedSnapshot{}, domain.WrapError(domain.KindStorage, op, err)
	}
	return snap, nil
}

func (m *Manager) enforceRetention(ctx context.Context, projectID string) {
	if m.cfg.MaxVersionsPerProject <= 0 {
		return
	}
	list, err := m.versions.ListVersions(ctx, repo.VersionFilter{ProjectID: projectID, Limit: m.cfg.MaxVersionsPerProject + 1})
	if err != nil {
		m.log.Warn("retention check failed", "project_id", projectID, "error", err)
		return
	}
	if len(list) <= m.cfg.MaxVersionsPerProject {
		return
	}
	if _, err := m.Prune(ctx, projectID, m.cfg.MaxVersionsPerProject); err != nil {
		m.log.Warn("retention prune failed", "project_id", projectID, "error", err)
	}
}

// appendAudit stamps event with the time, request id and default actor and
// appends it. Failures are logged only.
func (m *Manager) appendAudit(ctx context.Context, event domain.AuditEvent) {
	if m.audit == nil {
		return
	}
	event.OccurredAt = m.now().UTC()
	event.Actor = authorOrDefault(event.Actor)
	event.RequestID = requestid.FromContext(ctx)
	if _, err := m.audit.Append(ctx, event); err != nil {
		m.log.Error("audit append failed", "action", event.Action, "resource_id", event.ResourceID, "error", err)
	}
}

func mapRepoError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return domain.WrapError(domain.KindNotFound, op, err)
	case errors.Is(err, repo.ErrConflict):
		return domain.WrapError(domain.KindIntegrity, op, err)
	default:
		return domain.WrapError(domain.KindStorage, op, err)
	}
}

func authorOrDefault(author string) string {
	if a := strings.TrimSpace(author); a != "" {
		return a
	}
	return defaultAuthor
}
