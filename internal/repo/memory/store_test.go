package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/repo"
)

func testVersion(id, projectID, parentID string, createdAt time.Time) domain.Version {
	return domain.Version{
		ID:              id,
		ProjectID:       projectID,
		ParentID:        parentID,
		Description:     "v " + id,
		SnapshotRef:     "projects/" + projectID + "/versions/" + id + "/snapshot.csv",
		ContentSHA256:   "sha-" + id,
		IntegritySHA256: "integrity-" + id,
		Metadata: domain.SnapshotMetadata{
			Rows:        1,
			Columns:     1,
			ColumnNames: []string{"a"},
			DTypes:      map[string]string{"a": "Int64"},
			NullCounts:  map[string]int{"a": 0},
		},
		CreatedAt: createdAt,
	}
}

func seedProject(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Projects().Create(context.Background(), domain.Project{ID: id, Name: id}))
}

func TestCreateVersionRequiresProject(t *testing.T) {
	s := New()
	err := s.CreateVersion(context.Background(), testVersion("0123456789abcdef", "missing", "", time.Now()))
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCreateVersionConcurrentSameID(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	v := testVersion("0123456789abcdef", "p1", "", time.Now())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.CreateVersion(context.Background(), v)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repo.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 7, conflicts)
}

func TestListVersionsOrdering(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	seedProject(t, s, "p2")
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateVersion(ctx, testVersion("bbbbbbbbbbbbbbbb", "p1", "", base)))
	require.NoError(t, s.CreateVersion(ctx, testVersion("aaaaaaaaaaaaaaaa", "p1", "", base)))
	require.NoError(t, s.CreateVersion(ctx, testVersion("cccccccccccccccc", "p1", "aaaaaaaaaaaaaaaa", base.Add(time.Minute))))
	require.NoError(t, s.CreateVersion(ctx, testVersion("dddddddddddddddd", "p2", "", base.Add(time.Hour))))

	got, err := s.ListVersions(ctx, repo.VersionFilter{ProjectID: "p1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.ID)
	}
	require.Equal(t, []string{"cccccccccccccccc", "aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb"}, ids)

	limited, err := s.ListVersions(ctx, repo.VersionFilter{ProjectID: "p1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestListVersionsBySnapshotRef(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	ctx := context.Background()
	a := testVersion("aaaaaaaaaaaaaaaa", "p1", "", time.Now())
	b := testVersion("bbbbbbbbbbbbbbbb", "p1", "aaaaaaaaaaaaaaaa", time.Now())
	b.SnapshotRef = a.SnapshotRef
	require.NoError(t, s.CreateVersion(ctx, a))
	require.NoError(t, s.CreateVersion(ctx, b))
	require.NoError(t, s.CreateVersion(ctx, testVersion("cccccccccccccccc", "p1", "", time.Now())))

	got, err := s.ListVersions(ctx, repo.VersionFilter{ProjectID: "p1", SnapshotRef: a.SnapshotRef})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestGetVersionReturnsCopy(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	ctx := context.Background()
	require.NoError(t, s.CreateVersion(ctx, testVersion("aaaaaaaaaaaaaaaa", "p1", "", time.Now())))

	got, err := s.GetVersion(ctx, "aaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	got.Metadata.DTypes["a"] = "Utf8"
	got.Metadata.ColumnNames[0] = "z"

	again, err := s.GetVersion(ctx, "aaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	require.Equal(t, "Int64", again.Metadata.DTypes["a"])
	require.Equal(t, "a", again.Metadata.ColumnNames[0])
}

func TestDeleteVersionScopedToProject(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	ctx := context.Background()
	require.NoError(t, s.CreateVersion(ctx, testVersion("aaaaaaaaaaaaaaaa", "p1", "", time.Now())))

	require.ErrorIs(t, s.DeleteVersion(ctx, "p2", "aaaaaaaaaaaaaaaa"), repo.ErrNotFound)
	require.NoError(t, s.DeleteVersion(ctx, "p1", "aaaaaaaaaaaaaaaa"))
	_, err := s.GetVersion(ctx, "aaaaaaaaaaaaaaaa")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSessionPointer(t *testing.T) {
	s := New()
	seedProject(t, s, "p1")
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, domain.Session{ID: "s1", ProjectID: "p1", Title: domain.DefaultSessionTitle}))
	require.ErrorIs(t, s.CreateSession(ctx, domain.Session{ID: "s1", ProjectID: "p1"}), repo.ErrConflict)

	updated, err := s.UpdateCurrentVersion(ctx, "s1", "aaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaaaaaaaaaa", updated.CurrentVersionID)

	_, err = s.UpdateCurrentVersion(ctx, "nope", "aaaaaaaaaaaaaaaa")
	require.ErrorIs(t, err, repo.ErrNotFound)

	list, err := s.ListSessions(ctx, repo.SessionFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	event := domain.AuditEvent{
		Actor:           "alice",
		Action:          "version.create",
		ResourceType:    "version",
		ResourceID:      "aaaaaaaaaaaaaaaa",
		IntegritySHA256: "abc",
	}
	first, err := s.Append(ctx, event)
	require.NoError(t, err)
	second, err := s.Append(ctx, event)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)
	require.Len(t, s.AuditEvents(), 2)
}

func TestAppendComputesIntegrity(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), domain.AuditEvent{
		Actor:        "alice",
		Action:       "version.prune",
		ResourceType: "project",
		ResourceID:   "p1",
		Payload:      domain.Metadata{"keep_count": 2},
	})
	require.NoError(t, err)
	events := s.AuditEvents()
	require.Len(t, events, 1)
	require.Len(t, events[0].IntegritySHA256, 64)
}
