package domain

import (
	"errors"
	"strings"
	"time"
)

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New session"

// Session points at the version the next transformation applies to.
type Session struct {
	ID               string    `json:"session_id"`
	ProjectID        string    `json:"project_id"`
	Title            string    `json:"title"`
	CurrentVersionID string    `json:"current_version_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return errors.New("project id is required")
	}
	return nil
}
