package domain

import (
	"errors"
	"strings"
	"time"
)

// VersionIDLength is the number of hex characters kept from the id hash.
const VersionIDLength = 16

// SnapshotMetadata summarizes the dataset stored at a version's snapshot.
// It is computed once when the version is created.
type SnapshotMetadata struct {
	Rows          int               `json:"rows"`
	Columns       int               `json:"columns"`
	ColumnNames   []string          `json:"column_names"`
	DTypes        map[string]string `json:"dtypes"`
	NullCounts    map[string]int    `json:"null_counts"`
	EstimatedSize int64             `json:"memory_usage"`
}

// Version is an immutable record of one dataset state. ParentID is empty for
// root versions and may reference a version that has since been pruned.
type Version struct {
	ID              string           `json:"version_id"`
	ProjectID       string           `json:"project_id"`
	ParentID        string           `json:"parent_id,omitempty"`
	Description     string           `json:"message"`
	Program         string           `json:"code,omitempty"`
	SnapshotRef     string           `json:"snapshot_ref"`
	ContentSHA256   string           `json:"content_sha256"`
	SizeBytes       int64            `json:"size_bytes"`
	Metadata        SnapshotMetadata `json:"metadata"`
	Author          string           `json:"author"`
	CreatedAt       time.Time        `json:"created_at"`
	IntegritySHA256 string           `json:"integrity_sha256"`
}

func (v Version) IsRoot() bool {
	return strings.TrimSpace(v.ParentID) == ""
}

func (v Version) Validate() error {
	if len(strings.TrimSpace(v.ID)) != VersionIDLength {
		return errors.New("version id must be 16 hex characters")
	}
	if strings.TrimSpace(v.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if v.ParentID == v.ID {
		return errors.New("version cannot be its own parent")
	}
	if strings.TrimSpace(v.Description) == "" {
		return errors.New("description is required")
	}
	if strings.TrimSpace(v.SnapshotRef) == "" {
		return errors.New("snapshot ref is required")
	}
	if strings.TrimSpace(v.ContentSHA256) == "" {
		return errors.New("content sha256 is required")
	}
	if strings.TrimSpace(v.IntegritySHA256) == "" {
		return errors.New("integrity sha256 is required")
	}
	return nil
}
