package versions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/datapilot/internal/domain"
)

// deriveVersionID hashes the fields that identify a mutation. Fields are
// NUL separated so adjacent values cannot run together.
func deriveVersionID(projectID, description, program string, createdAt time.Time) string {
	h := sha256.New()
	for _, part := range []string{projectID, description, program, createdAt.UTC().Format(time.RFC3339Nano)} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:domain.VersionIDLength]
}

// snapshotKey gives every version its own object so deleting one version's
// snapshot never affects another record.
func snapshotKey(projectID, versionID string) string {
	return fmt.Sprintf("projects/%s/versions/%s/snapshot.csv", strings.TrimSpace(projectID), versionID)
}

type versionIntegrityInput struct {
	ID            string                  `json:"version_id"`
	ProjectID     string                  `json:"project_id"`
	ParentID      string                  `json:"parent_id,omitempty"`
	Description   string                  `json:"description"`
	Program       string                  `json:"program"`
	SnapshotRef   string                  `json:"snapshot_ref"`
	ContentSHA256 string                  `json:"content_sha256"`
	SizeBytes     int64                   `json:"size_bytes"`
	Metadata      domain.SnapshotMetadata `json:"metadata"`
	Author        string                  `json:"author"`
	CreatedAt     time.Time               `json:"created_at"`
}

func versionIntegritySHA256(v domain.Version) (string, error) {
	blob, err := json.Marshal(versionIntegrityInput{
		ID:            v.ID,
		ProjectID:     v.ProjectID,
		ParentID:      v.ParentID,
		Description:   v.Description,
		Program:       v.Program,
		SnapshotRef:   v.SnapshotRef,
		ContentSHA256: v.ContentSHA256,
		SizeBytes:     v.SizeBytes,
		Metadata:      v.Metadata,
		Author:        v.Author,
		CreatedAt:     v.CreatedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity input: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// verifyRecord recomputes the record hash written at creation time.
func verifyRecord(op string, v domain.Version) error {
	want, err := versionIntegritySHA256(v)
	if err != nil {
		return domain.WrapError(domain.KindIntegrity, op, err)
	}
	if want != v.IntegritySHA256 {
		return domain.NewError(domain.KindIntegrity, op, fmt.Sprintf("record of version %s does not match its integrity hash", v.ID))
	}
	return nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
