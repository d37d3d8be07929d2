package versions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/datapilot/internal/dataset"
	"github.com/animus-labs/datapilot/internal/diff"
	"github.com/animus-labs/datapilot/internal/domain"
)

// Checkout downloads the snapshot of versionID to destination. A failed
// transfer is reported as (false, nil) so callers can retry; destination is
// only replaced by bytes whose hash matches the version record.
func (m *Manager) Checkout(ctx context.Context, versionID, destination string) (bool, error) {
	const op = "versions.checkout"
	if strings.TrimSpace(destination) == "" {
		return false, domain.NewError(domain.KindValidation, op, "destination is required")
	}
	version, err := m.GetVersion(ctx, versionID)
	if err != nil {
		return false, err
	}
	if err := verifyRecord(op, version); err != nil {
		m.log.Error("version record integrity mismatch", "version_id", version.ID)
		return false, err
	}

	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, domain.WrapError(domain.KindStorage, op, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*.checkout")
	if err != nil {
		return false, domain.WrapError(domain.KindStorage, op, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := m.store.Get(ctx, m.bucket, version.SnapshotRef, tmpPath); err != nil {
		m.log.Warn("snapshot download failed", "version_id", version.ID, "key", version.SnapshotRef, "error", err)
		return false, nil
	}
	sum, _, err := hashFile(tmpPath)
	if err != nil {
		m.log.Warn("snapshot hash failed", "version_id", version.ID, "error", err)
		return false, nil
	}
	if sum != version.ContentSHA256 {
		m.log.Error("snapshot content mismatch", "version_id", version.ID, "key", version.SnapshotRef, "want", version.ContentSHA256, "got", sum)
		return false, domain.NewError(domain.KindIntegrity, op, fmt.Sprintf("snapshot of version %s does not match its content hash", version.ID))
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		return false, domain.WrapError(domain.KindStorage, op, err)
	}
	return true, nil
}

// VersionSummary identifies one side of a comparison.
type VersionSummary struct {
	ID          string                  `json:"id"`
	Description string                  `json:"description"`
	Metadata    domain.SnapshotMetadata `json:"metadata"`
}

type CompareResult struct {
	VersionA VersionSummary `json:"version1"`
	VersionB VersionSummary `json:"version2"`
	Diff     diff.Diff      `json:"diff"`
}

// CompareVersions diffs the snapshot of idA (before) against idB (after).
// Both snapshots are checked out into a scratch directory that is removed
// before returning.
func (m *Manager) CompareVersions(ctx context.Context, idA, idB string) (CompareResult, error) {
	const op = "versions.compare"
	a, err := m.GetVersion(ctx, idA)
	if err != nil {
		return CompareResult{}, err
	}
	b, err := m.GetVersion(ctx, idB)
	if err != nil {
		return CompareResult{}, err
	}

	dir, err := os.MkdirTemp(m.cfg.ScratchDir, "datapilot-compare-")
	if err != nil {
		return CompareResult{}, domain.WrapError(domain.KindStorage, op, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			m.log.Warn("compare scratch cleanup failed", "path", dir, "error", err)
		}
	}()

	frames := make([]*dataset.Frame, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range []domain.Version{a, b} {
		i, v := i, v
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("%d-%s.csv", i, v.ID))
			ok, err := m.Checkout(gctx, v.ID, path)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewError(domain.KindStorage, op, fmt.Sprintf("checkout of version %s failed", v.ID))
			}
			frame, err := dataset.Load(path)
			if err != nil {
				return domain.WrapError(domain.KindStorage, op, err)
			}
			frames[i] = frame
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return CompareResult{}, err
		}
		return CompareResult{}, domain.WrapError(domain.KindStorage, op, err)
	}

	return CompareResult{
		VersionA: summarize(a),
		VersionB: summarize(b),
		Diff:     diff.Compute(frames[0], frames[1]),
	}, nil
}

func summarize(v domain.Version) VersionSummary {
	return VersionSummary{ID: v.ID, Description: v.Description, Metadata: v.Metadata}
}
