package versions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/auditlog"
	"github.com/animus-labs/datapilot/internal/repo"
	"github.com/animus-labs/datapilot/internal/repo/memory"
	"github.com/animus-labs/datapilot/internal/storage/blob"
)

const testBucket = "data-versions"

type failingStore struct {
	blob.Store
	failPut    bool
	failDelete bool
	truncate   bool
	afterPut   func()
}

func (s *failingStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if s.failPut {
		return errors.New("object store unavailable")
	}
	if s.truncate {
		size /= 2
		body = io.LimitReader(body, size)
	}
	if err := s.Store.Put(ctx, bucket, key, body, size, contentType); err != nil {
		return err
	}
	if hook := s.afterPut; hook != nil {
		s.afterPut = nil
		hook()
	}
	return nil
}

func (s *failingStore) Delete(ctx context.Context, bucket, key string) error {
	if s.failDelete {
		return errors.New("object store unavailable")
	}
	return s.Store.Delete(ctx, bucket, key)
}

type fixture struct {
	mgr   *Manager
	mem   *memory.Store
	store *failingStore
	local *blob.LocalStore
	clock time.Time
	dir   string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	local, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mem := memory.New()
	store := &failingStore{Store: local}
	cfg.ScratchDir = t.TempDir()
	mgr, err := NewManager(cfg, mem.Projects(), mem.Versions(), store, testBucket, mem, nil)
	require.NoError(t, err)
	f := &fixture{
		mgr:   mgr,
		mem:   mem,
		store: store,
		local: local,
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		dir:   t.TempDir(),
	}
	mgr.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) project(t *testing.T) domain.Project {
	t.Helper()
	p, err := f.mgr.CreateProject(context.Background(), "sales", "quarterly sales", "alice")
	require.NoError(t, err)
	return p
}

func (f *fixture) create(t *testing.T, projectID, parentID, description, content string) domain.Version {
	t.Helper()
	v, err := f.mgr.CreateVersion(context.Background(), CreateVersionInput{
		ProjectID:    projectID,
		ParentID:     parentID,
		Description:  description,
		Program:      "result = df",
		SnapshotPath: f.writeCSV(t, description+".csv", content),
		Author:       "alice",
	})
	require.NoError(t, err)
	return v
}

const threeRows = "a,b\n1,x\n,y\n3,z\n"

func TestCreateCompareScenario(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)

	v1, err := f.mgr.CreateVersion(ctx, CreateVersionInput{
		ProjectID:    p.ID,
		Description:  "initial upload",
		SnapshotPath: f.writeCSV(t, "v1.csv", threeRows),
	})
	require.NoError(t, err)
	require.True(t, v1.IsRoot())
	require.Len(t, v1.ID, domain.VersionIDLength)
	require.Equal(t, 3, v1.Metadata.Rows)
	require.Equal(t, []string{"a", "b"}, v1.Metadata.ColumnNames)
	require.Equal(t, 1, v1.Metadata.NullCounts["a"])
	require.Equal(t, "system", v1.Author)
	require.Equal(t, "projects/"+p.ID+"/versions/"+v1.ID+"/snapshot.csv", v1.SnapshotRef)

	v2, err := f.mgr.CreateVersion(ctx, CreateVersionInput{
		ProjectID:    p.ID,
		ParentID:     v1.ID,
		Description:  "drop rows where a is null",
		Program:      "result = df.drop_nulls('a')",
		SnapshotPath: f.writeCSV(t, "v2.csv", "a,b\n1,x\n3,z\n"),
		Author:       "alice",
	})
	require.NoError(t, err)
	require.Equal(t, v1.ID, v2.ParentID)

	cmp, err := f.mgr.CompareVersions(ctx, v1.ID, v2.ID)
	require.NoError(t, err)
	require.Equal(t, -1, cmp.Diff.RowsChange)
	require.Equal(t, v1.ID, cmp.VersionA.ID)
	require.Equal(t, v2.ID, cmp.VersionB.ID)

	history, err := f.mgr.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, v2.ID, history[0].ID)
	require.Equal(t, v1.ID, history[1].ID)
	require.True(t, history[1].Root)
	require.False(t, history[0].Root)

	actions := make([]string, 0)
	for _, e := range f.mem.AuditEvents() {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"project.create", "version.create", "version.create"}, actions)
}

func TestCreateVersionValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	path := f.writeCSV(t, "in.csv", threeRows)

	_, err := f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: "missing", Description: "x", SnapshotPath: path})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, ParentID: "0000000000000000", Description: "x", SnapshotPath: path})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: " ", SnapshotPath: path})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: "x", SnapshotPath: f.writeCSV(t, "in.xls", "legacy")})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: "x", SnapshotPath: f.writeCSV(t, "in.parquet", "PAR1")})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: "x", SnapshotPath: filepath.Join(f.dir, "absent.csv")})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.False(t, domain.IsKind(err, domain.KindNotFound))

	other, err := f.mgr.CreateProject(ctx, "other", "", "bob")
	require.NoError(t, err)
	foreign := f.create(t, other.ID, "", "foreign", threeRows)
	_, err = f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, ParentID: foreign.ID, Description: "x", SnapshotPath: path})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateVersionUploadFailureWritesNoRecord(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	f.store.failPut = true

	_, err := f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: "x", SnapshotPath: f.writeCSV(t, "in.csv", threeRows)})
	require.ErrorIs(t, err, domain.ErrStorage)

	list, err := f.mem.ListVersions(ctx, repo.VersionFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateVersionRejectsShortUpload(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	f.store.truncate = true

	_, err := f.mgr.CreateVersion(ctx, CreateVersionInput{ProjectID: p.ID, Description: "x", SnapshotPath: f.writeCSV(t, "in.csv", threeRows)})
	require.ErrorIs(t, err, domain.ErrStorage)

	list, err := f.mem.ListVersions(ctx, repo.VersionFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Empty(t, list)

	objects, err := f.local.List(ctx, testBucket, "projects/"+p.ID+"/")
	require.NoError(t, err)
	require.Empty(t, objects)
}

func TestCreateVersionSurvivesConcurrentPrune(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	a := f.create(t, p.ID, "", "a", threeRows)
	b := f.create(t, p.ID, a.ID, "b", "a,b\n7,q\n")

	// Prune runs between the upload of c and the insert of its record; a
	// holds the same bytes as c.
	var pruned PruneResult
	var pruneErr error
	f.store.afterPut = func() {
		pruned, pruneErr = f.mgr.Prune(ctx, p.ID, 1)
	}
	c := f.create(t, p.ID, b.ID, "c", threeRows)
	require.NoError(t, pruneErr)
	require.Equal(t, []string{a.ID}, pruned.Deleted)
	require.Equal(t, 1, pruned.BlobsDeleted)
	require.Equal(t, a.ContentSHA256, c.ContentSHA256)
	require.NotEqual(t, a.SnapshotRef, c.SnapshotRef)

	ok, err := f.mgr.Checkout(ctx, c.ID, filepath.Join(f.dir, "c.csv"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCreateVersionIDCollision(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return fixed }

	input := CreateVersionInput{ProjectID: p.ID, Description: "same", Program: "result = df", SnapshotPath: f.writeCSV(t, "in.csv", threeRows)}
	_, err := f.mgr.CreateVersion(ctx, input)
	require.NoError(t, err)
	_, err = f.mgr.CreateVersion(ctx, input)
	require.ErrorIs(t, err, domain.ErrIntegrity)

	list, err := f.mem.ListVersions(ctx, repo.VersionFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCreateVersionNormalizesTSV(t *testing.T) {
	f := newFixture(t, Config{})
	p := f.project(t)
	v, err := f.mgr.CreateVersion(context.Background(), CreateVersionInput{
		ProjectID:    p.ID,
		Description:  "tsv import",
		SnapshotPath: f.writeCSV(t, "in.tsv", "a\tb\n1\tx,y\n"),
	})
	require.NoError(t, err)

	dest := filepath.Join(f.dir, "out", "checkout.csv")
	ok, err := f.mgr.Checkout(context.Background(), v.ID, dest)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,\"x,y\"\n", string(data))
}

func TestCreateVersionNormalizesXLSX(t *testing.T) {
	f := newFixture(t, Config{})
	p := f.project(t)
	path := filepath.Join(f.dir, "in.xlsx")
	book := excelize.NewFile()
	sheet := book.GetSheetList()[0]
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"a", "b"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{1, "x,y"}))
	require.NoError(t, book.SetSheetRow(sheet, "A3", &[]any{2}))
	require.NoError(t, book.SaveAs(path))
	require.NoError(t, book.Close())

	v, err := f.mgr.CreateVersion(context.Background(), CreateVersionInput{
		ProjectID:    p.ID,
		Description:  "xlsx import",
		SnapshotPath: path,
	})
	require.NoError(t, err)
	require.Equal(t, 2, v.Metadata.Rows)
	require.Equal(t, 1, v.Metadata.NullCounts["b"])

	dest := filepath.Join(f.dir, "out", "xlsx.csv")
	ok, err := f.mgr.Checkout(context.Background(), v.ID, dest)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,\"x,y\"\n2,\n", string(data))
}

func TestConcurrentCreatesWithSameParentProduceSiblings(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	root := f.create(t, p.ID, "", "root", threeRows)

	var mu sync.Mutex
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.mgr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		path := f.writeCSV(t, fmt.Sprintf("child-%d.csv", i), threeRows)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.mgr.CreateVersion(ctx, CreateVersionInput{
				ProjectID:    p.ID,
				ParentID:     root.ID,
				Description:  fmt.Sprintf("child %d", i),
				SnapshotPath: path,
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	history, err := f.mgr.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for _, h := range history[:4] {
		require.Equal(t, root.ID, h.ParentID)
	}
}

// rewritingVersions alters every record it returns.
type rewritingVersions struct {
	repo.VersionRepository
}

func (r rewritingVersions) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	v, err := r.VersionRepository.GetVersion(ctx, id)
	v.Description += " (edited)"
	return v, err
}

func TestCheckoutRejectsAlteredRecord(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)

	mgr, err := NewManager(Config{ScratchDir: t.TempDir()}, f.mem.Projects(), rewritingVersions{f.mem.Versions()}, f.store, testBucket, f.mem, nil)
	require.NoError(t, err)
	dest := filepath.Join(f.dir, "altered.csv")
	ok, err := mgr.Checkout(ctx, v.ID, dest)
	require.False(t, ok)
	require.ErrorIs(t, err, domain.ErrIntegrity)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)

	_, err := f.mgr.Checkout(ctx, "ffffffffffffffff", filepath.Join(f.dir, "x.csv"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	dest := filepath.Join(f.dir, "checkout.csv")
	ok, err := f.mgr.Checkout(ctx, v.ID, dest)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, threeRows, string(data))

	// tampered blob
	require.NoError(t, f.local.Put(ctx, testBucket, v.SnapshotRef, strings.NewReader("a,b\n9,9\n"), 8, "text/csv"))
	tampered := filepath.Join(f.dir, "tampered.csv")
	ok, err = f.mgr.Checkout(ctx, v.ID, tampered)
	require.False(t, ok)
	require.ErrorIs(t, err, domain.ErrIntegrity)
	_, statErr := os.Stat(tampered)
	require.True(t, os.IsNotExist(statErr))

	// missing blob is a soft failure
	require.NoError(t, f.local.Delete(ctx, testBucket, v.SnapshotRef))
	missing := filepath.Join(f.dir, "missing.csv")
	ok, err = f.mgr.Checkout(ctx, v.ID, missing)
	require.NoError(t, err)
	require.False(t, ok)
	_, statErr = os.Stat(missing)
	require.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".checkout"), e.Name())
	}
}

func TestHistoryTieBreakAndTruncation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return fixed }

	long := strings.Repeat("x", 250)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		v, err := f.mgr.CreateVersion(ctx, CreateVersionInput{
			ProjectID:    p.ID,
			Description:  fmt.Sprintf("v%d", i),
			Program:      long,
			SnapshotPath: f.writeCSV(t, fmt.Sprintf("v%d.csv", i), threeRows),
		})
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	history, err := f.mgr.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		require.Less(t, history[i-1].ID, history[i].ID)
	}
	require.Equal(t, strings.Repeat("x", programSummary)+"...", history[0].Program)

	_, err = f.mgr.GetHistory(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompareSelfAndUnknown(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)

	cmp, err := f.mgr.CompareVersions(ctx, v.ID, v.ID)
	require.NoError(t, err)
	require.Zero(t, cmp.Diff.RowsChange)
	require.Zero(t, cmp.Diff.ColumnsChange)
	require.Empty(t, cmp.Diff.ColumnsAdded)
	require.Empty(t, cmp.Diff.ColumnsRemoved)

	_, err = f.mgr.CompareVersions(ctx, v.ID, "ffffffffffffffff")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.local.Delete(ctx, testBucket, v.SnapshotRef))
	_, err = f.mgr.CompareVersions(ctx, v.ID, v.ID)
	require.ErrorIs(t, err, domain.ErrStorage)

	entries, err := os.ReadDir(f.mgr.cfg.ScratchDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCreateBranch(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)

	b, err := f.mgr.CreateBranch(ctx, p.ID, "experiment", v.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, v.ID, b.ParentID)
	require.Equal(t, "projects/"+p.ID+"/versions/"+b.ID+"/snapshot.csv", b.SnapshotRef)
	require.Equal(t, v.ContentSHA256, b.ContentSHA256)
	require.Equal(t, v.Metadata, b.Metadata)
	require.Equal(t, v.Program, b.Program)
	require.Contains(t, b.Description, "experiment")
	require.NotEqual(t, v.ID, b.ID)

	require.NoError(t, f.local.Delete(ctx, testBucket, v.SnapshotRef))
	dest := filepath.Join(f.dir, "branch.csv")
	ok, err := f.mgr.Checkout(ctx, b.ID, dest)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, threeRows, string(data))

	_, err = f.mgr.CreateBranch(ctx, p.ID, "gone", v.ID, "bob")
	require.ErrorIs(t, err, domain.ErrStorage)

	_, err = f.mgr.CreateBranch(ctx, p.ID, "x", "ffffffffffffffff", "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.mgr.CreateBranch(ctx, p.ID, " ", v.ID, "bob")
	require.ErrorIs(t, err, domain.ErrValidation)

	other, err := f.mgr.CreateProject(ctx, "other", "", "bob")
	require.NoError(t, err)
	_, err = f.mgr.CreateBranch(ctx, other.ID, "x", v.ID, "bob")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPrune(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)

	var versions []domain.Version
	parent := ""
	for i := 0; i < 5; i++ {
		v := f.create(t, p.ID, parent, fmt.Sprintf("v%d", i), fmt.Sprintf("a\n%d\n", i))
		versions = append(versions, v)
		parent = v.ID
	}

	res, err := f.mgr.Prune(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Kept)
	require.ElementsMatch(t, []string{versions[0].ID, versions[1].ID, versions[2].ID}, res.Deleted)
	require.Equal(t, 3, res.BlobsDeleted)

	history, err := f.mgr.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, versions[4].ID, history[0].ID)
	require.Equal(t, versions[3].ID, history[1].ID)
	require.Equal(t, versions[2].ID, history[1].ParentID)
	require.True(t, history[1].Root)

	for _, v := range versions[:3] {
		_, err := f.local.Stat(ctx, testBucket, v.SnapshotRef)
		require.ErrorIs(t, err, blob.ErrObjectNotFound)
	}

	res, err = f.mgr.Prune(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Empty(t, res.Deleted)

	_, err = f.mgr.Prune(ctx, p.ID, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPruneKeepsBranchSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)
	b, err := f.mgr.CreateBranch(ctx, p.ID, "keep", v.ID, "")
	require.NoError(t, err)

	res, err := f.mgr.Prune(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, []string{v.ID}, res.Deleted)
	require.Equal(t, 1, res.BlobsDeleted)
	require.Zero(t, res.BlobsRetained)

	ok, err := f.mgr.Checkout(ctx, b.ID, filepath.Join(f.dir, "branch.csv"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPruneRetainsReferencedSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)

	// a record written by an older release that points at v's object
	shared := v
	shared.ParentID = v.ID
	shared.Description = "imported"
	shared.CreatedAt = v.CreatedAt.Add(time.Minute)
	shared.ID = deriveVersionID(p.ID, shared.Description, shared.Program, shared.CreatedAt)
	require.NoError(t, f.mgr.insert(ctx, "test", &shared))

	res, err := f.mgr.Prune(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, []string{v.ID}, res.Deleted)
	require.Equal(t, 1, res.BlobsRetained)
	require.Zero(t, res.BlobsDeleted)

	ok, err := f.mgr.Checkout(ctx, shared.ID, filepath.Join(f.dir, "shared.csv"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPruneBlobFailureStillDeletesRecords(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	old := f.create(t, p.ID, "", "v1", "a\n1\n")
	f.create(t, p.ID, old.ID, "v2", "a\n2\n")
	f.store.failDelete = true

	res, err := f.mgr.Prune(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, []string{old.ID}, res.Deleted)
	require.Equal(t, []string{old.SnapshotRef}, res.BlobFailures)
	_, err = f.mgr.GetVersion(ctx, old.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRetentionPrunesAfterCreate(t *testing.T) {
	f := newFixture(t, Config{MaxVersionsPerProject: 2})
	p := f.project(t)
	parent := ""
	for i := 0; i < 4; i++ {
		parent = f.create(t, p.ID, parent, fmt.Sprintf("v%d", i), fmt.Sprintf("a\n%d\n", i)).ID
	}
	history, err := f.mgr.GetHistory(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, parent, history[0].ID)
}

func TestLatestVersion(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	_, err := f.mgr.LatestVersion(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.create(t, p.ID, "", "v1", threeRows)
	v2 := f.create(t, p.ID, "", "v2", threeRows)
	latest, err := f.mgr.LatestVersion(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, v2.ID, latest.ID)
}

func TestDeriveVersionIDDeterministic(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := deriveVersionID("p", "d", "prog", at)
	require.Equal(t, a, deriveVersionID("p", "d", "prog", at))
	require.Len(t, a, domain.VersionIDLength)
	require.NotEqual(t, a, deriveVersionID("p", "d", "prog", at.Add(time.Nanosecond)))
	require.NotEqual(t, deriveVersionID("ab", "c", "", at), deriveVersionID("a", "bc", "", at))
}

func TestAuditEventsCarryTypedPayloads(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	p := f.project(t)
	v := f.create(t, p.ID, "", "v1", threeRows)
	b, err := f.mgr.CreateBranch(ctx, p.ID, "exp", v.ID, "bob")
	require.NoError(t, err)
	_, err = f.mgr.Prune(ctx, p.ID, 1)
	require.NoError(t, err)

	events := f.mem.AuditEvents()
	require.Len(t, events, 4)
	require.Equal(t, auditlog.ActionVersionCreate, events[1].Action)
	require.Equal(t, v.SnapshotRef, events[1].Payload["snapshot_ref"])
	require.Equal(t, "alice", events[1].Actor)

	require.Equal(t, auditlog.ActionVersionBranch, events[2].Action)
	require.Equal(t, b.ID, events[2].ResourceID)
	require.Equal(t, v.ID, events[2].Payload["parent_id"])
	require.Equal(t, "exp", events[2].Payload["label"])

	require.Equal(t, auditlog.ActionVersionPrune, events[3].Action)
	require.Equal(t, p.ID, events[3].ResourceID)
	require.Equal(t, []string{v.ID}, events[3].Payload["deleted"])
}
