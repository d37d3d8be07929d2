package versions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
)

// CreateBranch records a child of fromVersionID with the same content,
// metadata and program. Nothing is executed; the source snapshot is copied to
// the branch's own object.
func (m *Manager) CreateBranch(ctx context.Context, projectID, label, fromVersionID, author string) (domain.Version, error) {
	const op = "versions.branch"
	projectID = strings.TrimSpace(projectID)
	label = strings.TrimSpace(label)
	if projectID == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "project id is required")
	}
	if label == "" {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "branch label is required")
	}
	source, err := m.GetVersion(ctx, fromVersionID)
	if err != nil {
		return domain.Version{}, err
	}
	if source.ProjectID != projectID {
		return domain.Version{}, domain.NewError(domain.KindValidation, op, "source version belongs to another project")
	}

	createdAt := m.now().UTC().Truncate(time.Microsecond)
	description := branchPrefix + label
	id := deriveVersionID(projectID, description, source.Program, createdAt)
	version := domain.Version{
		ID:            id,
		ProjectID:     projectID,
		ParentID:      source.ID,
		Description:   description,
		Program:       source.Program,
		SnapshotRef:   snapshotKey(projectID, id),
		ContentSHA256: source.ContentSHA256,
		SizeBytes:     source.SizeBytes,
		Metadata:      source.Metadata,
		Author:        authorOrDefault(author),
		CreatedAt:     createdAt,
	}
	if err := m.ensureUnusedID(ctx, op, version.ID); err != nil {
		return domain.Version{}, err
	}
	if err := m.copySnapshot(ctx, op, source, version.SnapshotRef); err != nil {
		return domain.Version{}, err
	}
	if err := m.insert(ctx, op, &version); err != nil {
		m.discardSnapshot(ctx, version.SnapshotRef)
		return domain.Version{}, err
	}

	m.log.Info("branch created", "project_id", projectID, "version_id", version.ID, "from", source.ID, "label", label)
	m.appendAudit(ctx, auditlog.VersionBranched(version, label))
	m.enforceRetention(ctx, projectID)
	return version, nil
}

// copySnapshot stores the verified bytes of source under key.
func (m *Manager) copySnapshot(ctx context.Context, op string, source domain.Version, key string) error {
	dir, err := os.MkdirTemp(m.cfg.ScratchDir, "datapilot-branch-")
	if err != nil {
		return domain.WrapError(domain.KindStorage, op, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "snapshot.csv")
	ok, err := m.Checkout(ctx, source.ID, path)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.KindStorage, op, fmt.Sprintf("snapshot of version %s could not be read", source.ID))
	}
	if err := m.uploadSnapshot(ctx, key, path, source.SizeBytes); err != nil {
		return domain.WrapError(domain.KindStorage, op, err)
	}
	return nil
}
