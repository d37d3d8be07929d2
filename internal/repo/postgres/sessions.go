package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/repo"
)

const sessionColumns = `session_id, project_id, title, current_version_id, created_at, updated_at`

const (
	insertSessionQuery = `INSERT INTO sessions (
		session_id,
		project_id,
		title,
		current_version_id,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6)`

	selectSessionQuery = `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE session_id = $1`

	listSessionsQuery = `SELECT ` + sessionColumns + ` FROM sessions WHERE project_id = $1 ORDER BY updated_at DESC, session_id ASC`

	// Single-statement pointer move; the row lock taken by UPDATE serializes
	// concurrent moves of the same session.
	updateCurrentVersionQuery = `UPDATE sessions
		SET current_version_id = $2, updated_at = $3
		WHERE session_id = $1
		RETURNING ` + sessionColumns
)

type SessionStore struct {
	db  DB
	now func() time.Time
}

func NewSessionStore(db DB) *SessionStore {
	if db == nil {
		return nil
	}
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("session store not initialized")
	}
	if err := session.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(session.CreatedAt)
	updatedAt := createdAt
	if !session.UpdatedAt.IsZero() {
		updatedAt = session.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		insertSessionQuery,
		strings.TrimSpace(session.ID),
		strings.TrimSpace(session.ProjectID),
		strings.TrimSpace(session.Title),
		nullString(session.CurrentVersionID),
		createdAt,
		updatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("insert session: %w", repo.ErrConflict)
		case isForeignKeyViolation(err):
			return fmt.Errorf("insert session: project: %w", repo.ErrNotFound)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if s == nil || s.db == nil {
		return domain.Session{}, fmt.Errorf("session store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}
	session, err := scanSession(s.db.QueryRowContext(ctx, selectSessionQuery, id))
	if err != nil {
		return domain.Session{}, handleNotFound(err)
	}
	return session, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, filter repo.SessionFilter) ([]domain.Session, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("session store not initialized")
	}
	projectID := strings.TrimSpace(filter.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	args := []any{projectID}
	query := listSessionsQuery
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionStore) UpdateCurrentVersion(ctx context.Context, id string, versionID string) (domain.Session, error) {
	if s == nil || s.db == nil {
		return domain.Session{}, fmt.Errorf("session store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}
	row := s.db.QueryRowContext(ctx, updateCurrentVersionQuery, id, nullString(versionID), s.now().UTC())
	session, err := scanSession(row)
	if err != nil {
		return domain.Session{}, handleNotFound(err)
	}
	return session, nil
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session domain.Session
		current sql.NullString
	)
	if err := row.Scan(&session.ID, &session.ProjectID, &session.Title, &current, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return domain.Session{}, err
	}
	session.CurrentVersionID = current.String
	return session, nil
}
