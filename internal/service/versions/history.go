package versions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
	"github.com/animus-labs/datapilot/internal/repo"
	"github.com/animus-labs/datapilot/internal/storage/blob"
)

// HistoryEntry is a display summary of one version. Root is set for versions
// without a parent and for versions whose parent has been pruned.
type HistoryEntry struct {
	ID          string                  `json:"id"`
	ParentID    string                  `json:"parent_id,omitempty"`
	Root        bool                    `json:"root"`
	Description string                  `json:"message"`
	Author      string                  `json:"author"`
	CreatedAt   time.Time               `json:"created_at"`
	Metadata    domain.SnapshotMetadata `json:"metadata"`
	Program     string                  `json:"code"`
}

// GetHistory lists a project's versions, newest first, ties broken by id.
func (m *Manager) GetHistory(ctx context.Context, projectID string) ([]HistoryEntry, error) {
	const op = "versions.history"
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.NewError(domain.KindValidation, op, "project id is required")
	}
	if _, err := m.projects.Get(ctx, projectID); err != nil {
		return nil, mapRepoError(op, err)
	}
	list, err := m.versions.ListVersions(ctx, repo.VersionFilter{ProjectID: projectID})
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	present := make(map[string]struct{}, len(list))
	for _, v := range list {
		present[v.ID] = struct{}{}
	}
	out := make([]HistoryEntry, 0, len(list))
	for _, v := range list {
		_, parentPresent := present[v.ParentID]
		out = append(out, HistoryEntry{
			ID:          v.ID,
			ParentID:    v.ParentID,
			Root:        v.IsRoot() || !parentPresent,
			Description: v.Description,
			Author:      v.Author,
			CreatedAt:   v.CreatedAt,
			Metadata:    v.Metadata,
			Program:     truncateProgram(v.Program),
		})
	}
	return out, nil
}

func truncateProgram(program string) string {
	runes := []rune(program)
	if len(runes) <= programSummary {
		return program
	}
	return string(runes[:programSummary]) + "..."
}

type PruneResult struct {
	Kept          int      `json:"kept"`
	Deleted       []string `json:"deleted"`
	BlobsDeleted  int      `json:"blobs_deleted"`
	BlobsRetained int      `json:"blobs_retained"`
	BlobFailures  []string `json:"blob_failures,omitempty"`
}

// Prune keeps the newest keepCount versions of a project and deletes the
// rest. Each record is removed before its snapshot, and the snapshot is kept
// while any remaining record still references it. Blob deletion is best
// effort; record deletion is always attempted.
func (m *Manager) Prune(ctx context.Context, projectID string, keepCount int) (PruneResult, error) {
	const op = "versions.prune"
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return PruneResult{}, domain.NewError(domain.KindValidation, op, "project id is required")
	}
	if keepCount < 0 {
		return PruneResult{}, domain.NewError(domain.KindValidation, op, "keep count must be >= 0")
	}
	list, err := m.versions.ListVersions(ctx, repo.VersionFilter{ProjectID: projectID})
	if err != nil {
		return PruneResult{}, mapRepoError(op, err)
	}
	result := PruneResult{Deleted: []string{}}
	if len(list) <= keepCount {
		result.Kept = len(list)
		return result, nil
	}
	keep, old := list[:keepCount], list[keepCount:]
	result.Kept = len(keep)

	var merr *multierror.Error
	for _, v := range old {
		if err := m.versions.DeleteVersion(ctx, projectID, v.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			merr = multierror.Append(merr, err)
			continue
		}
		result.Deleted = append(result.Deleted, v.ID)
		m.releaseSnapshot(ctx, v, &result)
	}

	m.log.Info("versions pruned", "project_id", projectID, "kept", result.Kept, "deleted", len(result.Deleted), "blob_failures", len(result.BlobFailures))
	if len(result.Deleted) > 0 {
		m.appendAudit(ctx, auditlog.VersionsPruned(defaultAuthor, projectID, keepCount, result.Deleted))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return result, domain.WrapError(domain.KindStorage, op, err)
	}
	return result, nil
}

// releaseSnapshot deletes the snapshot of a removed record unless another
// record still points at it.
func (m *Manager) releaseSnapshot(ctx context.Context, v domain.Version, result *PruneResult) {
	refs, err := m.versions.ListVersions(ctx, repo.VersionFilter{ProjectID: v.ProjectID, SnapshotRef: v.SnapshotRef, Limit: 1})
	if err != nil {
		m.log.Warn("snapshot reference check failed", "version_id", v.ID, "key", v.SnapshotRef, "error", err)
		result.BlobFailures = append(result.BlobFailures, v.SnapshotRef)
		return
	}
	if len(refs) > 0 {
		result.BlobsRetained++
		return
	}
	if err := m.store.Delete(ctx, m.bucket, v.SnapshotRef); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
		m.log.Warn("snapshot delete failed", "version_id", v.ID, "key", v.SnapshotRef, "error", err)
		result.BlobFailures = append(result.BlobFailures, v.SnapshotRef)
		return
	}
	result.BlobsDeleted++
}
