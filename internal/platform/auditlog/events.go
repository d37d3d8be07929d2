package auditlog

import (
	"strings"

	"github.com/animus-labs/datapilot/internal/domain"
)

const (
	ResourceProject = "project"
	ResourceVersion = "version"
	ResourceSession = "session"
)

const (
	ActionProjectCreate   = "project.create"
	ActionVersionCreate   = "version.create"
	ActionVersionBranch   = "version.branch"
	ActionVersionPrune    = "version.prune"
	ActionSessionImport   = "session.import"
	ActionSessionApply    = "session.apply"
	ActionSessionCheckout = "session.checkout"
)

var actionResources = map[string]string{
	ActionProjectCreate:   ResourceProject,
	ActionVersionCreate:   ResourceVersion,
	ActionVersionBranch:   ResourceVersion,
	ActionVersionPrune:    ResourceProject,
	ActionSessionImport:   ResourceSession,
	ActionSessionApply:    ResourceSession,
	ActionSessionCheckout: ResourceSession,
}

// VersionPayload is recorded for version.create and version.branch.
type VersionPayload struct {
	ProjectID     string
	ParentID      string
	SnapshotRef   string
	ContentSHA256 string
	Label         string
}

func (p VersionPayload) Metadata() domain.Metadata {
	out := domain.Metadata{
		"project_id":     p.ProjectID,
		"parent_id":      p.ParentID,
		"snapshot_ref":   p.SnapshotRef,
		"content_sha256": p.ContentSHA256,
	}
	if p.Label != "" {
		out["label"] = p.Label
	}
	return out
}

// PrunePayload is recorded for version.prune.
type PrunePayload struct {
	KeepCount int
	Deleted   []string
}

func (p PrunePayload) Metadata() domain.Metadata {
	return domain.Metadata{
		"keep_count": p.KeepCount,
		"deleted":    append([]string{}, p.Deleted...),
	}
}

// SessionPayload is recorded whenever a session pointer moves.
type SessionPayload struct {
	ProjectID     string
	FromVersionID string
	ToVersionID   string
}

func (p SessionPayload) Metadata() domain.Metadata {
	return domain.Metadata{
		"project_id":      p.ProjectID,
		"from_version_id": p.FromVersionID,
		"to_version_id":   p.ToVersionID,
	}
}

func ProjectCreated(p domain.Project) domain.AuditEvent {
	return domain.AuditEvent{
		Actor:        p.CreatedBy,
		Action:       ActionProjectCreate,
		ResourceType: ResourceProject,
		ResourceID:   p.ID,
		Payload:      domain.Metadata{"name": p.Name},
	}
}

func VersionCreated(v domain.Version) domain.AuditEvent {
	return versionEvent(ActionVersionCreate, v, "")
}

func VersionBranched(v domain.Version, label string) domain.AuditEvent {
	return versionEvent(ActionVersionBranch, v, label)
}

func versionEvent(action string, v domain.Version, label string) domain.AuditEvent {
	return domain.AuditEvent{
		Actor:        v.Author,
		Action:       action,
		ResourceType: ResourceVersion,
		ResourceID:   v.ID,
		Payload: VersionPayload{
			ProjectID:     v.ProjectID,
			ParentID:      v.ParentID,
			SnapshotRef:   v.SnapshotRef,
			ContentSHA256: v.ContentSHA256,
			Label:         strings.TrimSpace(label),
		}.Metadata(),
	}
}

func VersionsPruned(actor, projectID string, keepCount int, deleted []string) domain.AuditEvent {
	return domain.AuditEvent{
		Actor:        actor,
		Action:       ActionVersionPrune,
		ResourceType: ResourceProject,
		ResourceID:   projectID,
		Payload:      PrunePayload{KeepCount: keepCount, Deleted: deleted}.Metadata(),
	}
}

// SessionMoved records a pointer move from the session's current version to
// toVersionID. action is one of the session actions.
func SessionMoved(action, actor string, session domain.Session, toVersionID string) domain.AuditEvent {
	return domain.AuditEvent{
		Actor:        actor,
		Action:       action,
		ResourceType: ResourceSession,
		ResourceID:   session.ID,
		Payload: SessionPayload{
			ProjectID:     session.ProjectID,
			FromVersionID: session.CurrentVersionID,
			ToVersionID:   toVersionID,
		}.Metadata(),
	}
}
