// Package memory is a process-local implementation of the metadata
// repositories. A single mutex makes every write atomic, matching the
// per-statement transactional guarantees of the postgres stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
	"github.com/animus-labs/datapilot/internal/repo"
)

type Store struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
	versions map[string]domain.Version
	sessions map[string]domain.Session
	audit    []domain.AuditEvent
	now      func() time.Time
}

func New() *Store {
	return &Store{
		projects: make(map[string]domain.Project),
		versions: make(map[string]domain.Version),
		sessions: make(map[string]domain.Session),
		now:      time.Now,
	}
}

// Projects returns the store as a repo.ProjectRepository.
func (s *Store) Projects() repo.ProjectRepository { return projectRepo{s} }

func (s *Store) Versions() repo.VersionRepository { return s }

func (s *Store) Sessions() repo.SessionRepository { return s }

type projectRepo struct{ s *Store }

func (p projectRepo) Create(ctx context.Context, project domain.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.projects[project.ID]; ok {
		return fmt.Errorf("insert project: %w", repo.ErrConflict)
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = p.s.now().UTC()
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = project.CreatedAt
	}
	p.s.projects[project.ID] = project
	return nil
}

func (p projectRepo) Get(ctx context.Context, id string) (domain.Project, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	project, ok := p.s.projects[strings.TrimSpace(id)]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return project, nil
}

func (p projectRepo) List(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := make([]domain.Project, 0, len(p.s.projects))
	for _, project := range p.s.projects {
		if filter.Name != "" && project.Name != filter.Name {
			continue
		}
		if filter.CreatedBy != "" && project.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateVersion(ctx context.Context, version domain.Version) error {
	if err := version.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[version.ProjectID]; !ok {
		return fmt.Errorf("insert version: project: %w", repo.ErrNotFound)
	}
	if _, ok := s.versions[version.ID]; ok {
		return fmt.Errorf("insert version: %w", repo.ErrConflict)
	}
	version.CreatedAt = version.CreatedAt.UTC()
	s.versions[version.ID] = cloneVersion(version)
	return nil
}

func (s *Store) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[strings.TrimSpace(id)]
	if !ok {
		return domain.Version{}, repo.ErrNotFound
	}
	return cloneVersion(version), nil
}

func (s *Store) ListVersions(ctx context.Context, filter repo.VersionFilter) ([]domain.Version, error) {
	projectID := strings.TrimSpace(filter.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Version, 0)
	for _, version := range s.versions {
		if version.ProjectID != projectID {
			continue
		}
		if filter.SnapshotRef != "" && version.SnapshotRef != filter.SnapshotRef {
			continue
		}
		out = append(out, cloneVersion(version))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteVersion(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[id]
	if !ok || version.ProjectID != projectID {
		return repo.ErrNotFound
	}
	delete(s.versions, id)
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[session.ProjectID]; !ok {
		return fmt.Errorf("insert session: project: %w", repo.ErrNotFound)
	}
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("insert session: %w", repo.ErrConflict)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now().UTC()
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return domain.Session{}, repo.ErrNotFound
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter repo.SessionFilter) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.ProjectID == filter.ProjectID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateCurrentVersion(ctx context.Context, id string, versionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, repo.ErrNotFound
	}
	session.CurrentVersionID = strings.TrimSpace(versionID)
	session.UpdatedAt = s.now().UTC()
	s.sessions[id] = session
	return session, nil
}

func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	event.Payload = event.Payload.Clone()
	if event.IntegritySHA256 == "" {
		payloadJSON, err := json.Marshal(event.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		integrity, err := auditlog.ComputeIntegritySHA256(auditlog.Event{
			OccurredAt:   event.OccurredAt,
			Actor:        event.Actor,
			Action:       event.Action,
			ResourceType: event.ResourceType,
			ResourceID:   event.ResourceID,
			RequestID:    event.RequestID,
		}, payloadJSON)
		if err != nil {
			return 0, err
		}
		event.IntegritySHA256 = integrity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event.EventID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, event)
	return event.EventID, nil
}

// AuditEvents returns a copy of the appended audit events in order.
func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

func cloneVersion(v domain.Version) domain.Version {
	meta := v.Metadata
	if meta.ColumnNames != nil {
		meta.ColumnNames = append(make([]string, 0, len(meta.ColumnNames)), meta.ColumnNames...)
	}
	if meta.DTypes != nil {
		dtypes := make(map[string]string, len(meta.DTypes))
		for k, val := range meta.DTypes {
			dtypes[k] = val
		}
		meta.DTypes = dtypes
	}
	if meta.NullCounts != nil {
		nulls := make(map[string]int, len(meta.NullCounts))
		for k, val := range meta.NullCounts {
			nulls[k] = val
		}
		meta.NullCounts = nulls
	}
	v.Metadata = meta
	return v
}
