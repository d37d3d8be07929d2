// Package sessions drives the transformation pipeline for one session: it
// resolves the session's current version, runs a program against it in the
// sandbox, records the output as a child version and moves the pointer.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
	"github.com/animus-labs/datapilot/internal/platform/logger"
	"github.com/animus-labs/datapilot/internal/platform/requestid"
	"github.com/animus-labs/datapilot/internal/repo"
	"github.com/animus-labs/datapilot/internal/sandbox"
	"github.com/animus-labs/datapilot/internal/service/versions"
)

const defaultListLimit = 10

// Versions is the subset of the version manager the pipeline uses.
type Versions interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	GetVersion(ctx context.Context, id string) (domain.Version, error)
	LatestVersion(ctx context.Context, projectID string) (domain.Version, error)
	CreateVersion(ctx context.Context, input versions.CreateVersionInput) (domain.Version, error)
	Checkout(ctx context.Context, versionID, destination string) (bool, error)
}

// Executor runs a program against a snapshot.
type Executor interface {
	Execute(ctx context.Context, program, inputPath, outputPath string) sandbox.ExecutionResult
}

// Transformation is a generated program plus its human-readable summary.
type Transformation struct {
	Program     string
	Description string
}

type ApplyResult struct {
	Session   domain.Session          `json:"session"`
	Version   domain.Version          `json:"version"`
	Execution sandbox.ExecutionResult `json:"execution"`
}

type Service struct {
	sessions   repo.SessionRepository
	versions   Versions
	executor   Executor
	audit      repo.AuditEventAppender
	scratchDir string
	log        *logger.Logger
	now        func() time.Time
}

func NewService(sessions repo.SessionRepository, versions Versions, executor Executor, audit repo.AuditEventAppender, scratchDir string, log *logger.Logger) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session repository is required")
	}
	if versions == nil {
		return nil, errors.New("version manager is required")
	}
	if executor == nil {
		return nil, errors.New("sandbox executor is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		sessions:   sessions,
		versions:   versions,
		executor:   executor,
		audit:      audit,
		scratchDir: scratchDir,
		log:        log,
		now:        time.Now,
	}, nil
}

// Create opens a session on a project. The pointer starts at the project's
// latest version when one exists.
func (s *Service) Create(ctx context.Context, projectID, title string) (domain.Session, error) {
	const op = "sessions.create"
	project, err := s.versions.GetProject(ctx, projectID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.Session{}, domain.NewError(domain.KindValidation, op, fmt.Sprintf("project %s does not exist", projectID))
		}
		return domain.Session{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	now := s.now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	latest, err := s.versions.LatestVersion(ctx, project.ID)
	switch {
	case err == nil:
		session.CurrentVersionID = latest.ID
	case !domain.IsKind(err, domain.KindNotFound):
		return domain.Session{}, err
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return domain.Session{}, mapRepoError(op, err)
	}
	return session, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Session, error) {
	session, err := s.sessions.GetSession(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Session{}, mapRepoError("sessions.get", err)
	}
	return session, nil
}

// List returns the most recently updated sessions of a project.
func (s *Service) List(ctx context.Context, projectID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	list, err := s.sessions.ListSessions(ctx, repo.SessionFilter{ProjectID: strings.TrimSpace(projectID), Limit: limit})
	if err != nil {
		return nil, mapRepoError("sessions.list", err)
	}
	return list, nil
}

// Apply runs t against the session's current version. On success the output
// becomes a child version and the session points at it. On failure nothing
// is recorded, the pointer is unchanged and the error carries the sandbox
// failure kind.
func (s *Service) Apply(ctx context.Context, sessionID string, t Transformation, author string) (ApplyResult, error) {
	const op = "sessions.apply"
	if strings.TrimSpace(t.Description) == "" {
		return ApplyResult{}, domain.NewError(domain.KindValidation, op, "description is required")
	}
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return ApplyResult{}, err
	}
	base, err := s.currentVersion(ctx, session)
	if err != nil {
		return ApplyResult{}, err
	}

	dir, err := os.MkdirTemp(s.scratchDir, "datapilot-apply-")
	if err != nil {
		return ApplyResult{}, domain.WrapError(domain.KindStorage, op, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "input.csv")
	ok, err := s.versions.Checkout(ctx, base.ID, input)
	if err != nil {
		return ApplyResult{}, err
	}
	if !ok {
		return ApplyResult{}, domain.NewError(domain.KindStorage, op, fmt.Sprintf("checkout of version %s failed", base.ID))
	}

	output := filepath.Join(dir, "output.csv")
	execution := s.executor.Execute(ctx, t.Program, input, output)
	if !execution.Success {
		s.log.Warn("transformation failed", "session_id", session.ID, "base_version_id", base.ID, "kind", execution.Kind, "error", execution.Error)
		return ApplyResult{Session: session, Execution: execution}, execution.Err()
	}

	version, err := s.versions.CreateVersion(ctx, versions.CreateVersionInput{
		ProjectID:    session.ProjectID,
		ParentID:     base.ID,
		Description:  t.Description,
		Program:      t.Program,
		SnapshotPath: output,
		Author:       author,
	})
	if err != nil {
		return ApplyResult{Session: session, Execution: execution}, err
	}
	updated, err := s.movePointer(ctx, op, session, version.ID, author, auditlog.ActionSessionApply)
	if err != nil {
		return ApplyResult{Session: session, Version: version, Execution: execution}, err
	}
	return ApplyResult{Session: updated, Version: version, Execution: execution}, nil
}

// Checkout moves the session pointer to any version of the session's
// project. Versions are never modified.
func (s *Service) Checkout(ctx context.Context, sessionID, versionID, author string) (domain.Session, error) {
	const op = "sessions.checkout"
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	version, err := s.versions.GetVersion(ctx, versionID)
	if err != nil {
		return domain.Session{}, err
	}
	if version.ProjectID != session.ProjectID {
		return domain.Session{}, domain.NewError(domain.KindValidation, op, "version belongs to another project")
	}
	return s.movePointer(ctx, op, session, version.ID, author, auditlog.ActionSessionCheckout)
}

// Import records snapshotPath as a new root version with an empty program
// and points the session at it.
func (s *Service) Import(ctx context.Context, sessionID, snapshotPath, author string) (domain.Version, error) {
	const op = "sessions.import"
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.Version{}, err
	}
	version, err := s.versions.CreateVersion(ctx, versions.CreateVersionInput{
		ProjectID:    session.ProjectID,
		Description:  "upload: " + filepath.Base(snapshotPath),
		SnapshotPath: snapshotPath,
		Author:       author,
	})
	if err != nil {
		return domain.Version{}, err
	}
	if _, err := s.movePointer(ctx, op, session, version.ID, author, auditlog.ActionSessionImport); err != nil {
		return version, err
	}
	return version, nil
}

func (s *Service) currentVersion(ctx context.Context, session domain.Session) (domain.Version, error) {
	if session.CurrentVersionID != "" {
		v, err := s.versions.GetVersion(ctx, session.CurrentVersionID)
		if err == nil {
			return v, nil
		}
		if !domain.IsKind(err, domain.KindNotFound) {
			return domain.Version{}, err
		}
		s.log.Warn("session points at a pruned version, using latest", "session_id", session.ID, "version_id", session.CurrentVersionID)
	}
	v, err := s.versions.LatestVersion(ctx, session.ProjectID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.Version{}, domain.NewError(domain.KindValidation, "sessions.apply", "session has no data; import a snapshot first")
		}
		return domain.Version{}, err
	}
	return v, nil
}

func (s *Service) movePointer(ctx context.Context, op string, session domain.Session, versionID, author, action string) (domain.Session, error) {
	updated, err := s.sessions.UpdateCurrentVersion(ctx, session.ID, versionID)
	if err != nil {
		return domain.Session{}, mapRepoError(op, err)
	}
	s.log.Info("session pointer moved", "session_id", session.ID, "from", session.CurrentVersionID, "to", versionID)
	if s.audit != nil {
		actor := strings.TrimSpace(author)
		if actor == "" {
			actor = "system"
		}
		event := auditlog.SessionMoved(action, actor, session, versionID)
		event.OccurredAt = s.now().UTC()
		event.RequestID = requestid.FromContext(ctx)
		if _, err := s.audit.Append(ctx, event); err != nil {
			s.log.Error("audit append failed", "action", action, "session_id", session.ID, "error", err)
		}
	}
	return updated, nil
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return domain.WrapError(domain.KindNotFound, op, err)
	case errors.Is(err, repo.ErrConflict):
		return domain.WrapError(domain.KindIntegrity, op, err)
	default:
		return domain.WrapError(domain.KindStorage, op, err)
	}
}
