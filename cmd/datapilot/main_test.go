package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/logger"
	"github.com/animus-labs/datapilot/internal/platform/requestid"
	"github.com/animus-labs/datapilot/internal/repo/memory"
	"github.com/animus-labs/datapilot/internal/sandbox"
	"github.com/animus-labs/datapilot/internal/service/sessions"
	"github.com/animus-labs/datapilot/internal/service/versions"
	"github.com/animus-labs/datapilot/internal/storage/blob"
)

// copyExecutor passes the snapshot through unchanged, or fails when the
// program mentions "boom".
type copyExecutor struct{}

func (copyExecutor) Execute(ctx context.Context, program, inputPath, outputPath string) sandbox.ExecutionResult {
	if strings.Contains(program, "boom") {
		return sandbox.ExecutionResult{Kind: sandbox.FailureExecution, Error: "ZeroDivisionError: division by zero"}
	}
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return sandbox.ExecutionResult{Kind: sandbox.FailureInternal, Error: err.Error()}
	}
	if err := os.WriteFile(outputPath, raw, 0o644); err != nil {
		return sandbox.ExecutionResult{Kind: sandbox.FailureInternal, Error: err.Error()}
	}
	return sandbox.ExecutionResult{Success: true, Stats: &sandbox.Stats{}, OutputPath: outputPath}
}

type cliHarness struct {
	mem        *memory.Store
	dir        string
	requestIDs []string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	local, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mem := memory.New()
	mgr, err := versions.NewManager(versions.Config{ScratchDir: t.TempDir()}, mem.Projects(), mem.Versions(), local, "data-versions", mem, nil)
	require.NoError(t, err)
	svc, err := sessions.NewService(mem.Sessions(), mgr, copyExecutor{}, mem, t.TempDir(), nil)
	require.NoError(t, err)

	h := &cliHarness{mem: mem, dir: t.TempDir()}
	shared := &app{log: logger.NewNop(), versions: mgr, sessions: svc}
	previous := appFactory
	appFactory = func(ctx context.Context, cmd *cobra.Command) (*app, error) {
		h.requestIDs = append(h.requestIDs, requestid.FromContext(ctx))
		return shared, nil
	}
	t.Cleanup(func() { appFactory = previous })
	return h
}

func (h *cliHarness) run(args ...string) ([]byte, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--metadata", metadataMemory}, args...))
	err := cmd.Execute()
	return out.Bytes(), err
}

func (h *cliHarness) mustRun(t *testing.T, target any, args ...string) {
	t.Helper()
	out, err := h.run(args...)
	require.NoError(t, err, "datapilot %s", strings.Join(args, " "))
	if target != nil {
		require.NoError(t, json.Unmarshal(out, target), string(out))
	}
}

func (h *cliHarness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLIWorkflow(t *testing.T) {
	h := newCLIHarness(t)
	csvPath := h.writeFile(t, "sales.csv", "region,amount\nnorth,10\nsouth,\n")

	var project domain.Project
	h.mustRun(t, &project, "project", "create", "sales", "--description", "quarterly")
	require.NotEmpty(t, project.ID)
	require.Equal(t, "sales", project.Name)

	var initial domain.Version
	h.mustRun(t, &initial, "--author", "ana", "version", "import", project.ID, csvPath)
	require.Equal(t, "upload: sales.csv", initial.Description)
	require.Equal(t, "ana", initial.Author)
	require.Equal(t, 2, initial.Metadata.Rows)

	var session domain.Session
	h.mustRun(t, &session, "session", "create", project.ID)
	require.Equal(t, initial.ID, session.CurrentVersionID)
	require.Equal(t, domain.DefaultSessionTitle, session.Title)

	var applied sessions.ApplyResult
	h.mustRun(t, &applied, "session", "apply", session.ID, "--code", "result = df", "-m", "identity")
	require.Equal(t, initial.ID, applied.Version.ParentID)
	require.Equal(t, applied.Version.ID, applied.Session.CurrentVersionID)

	var history []versions.HistoryEntry
	h.mustRun(t, &history, "version", "history", project.ID)
	require.Len(t, history, 2)

	var compared versions.CompareResult
	h.mustRun(t, &compared, "version", "compare", initial.ID, applied.Version.ID)
	require.Zero(t, compared.Diff.RowsChange)
	require.True(t, compared.Diff.DataComparable)

	dest := filepath.Join(h.dir, "restored.csv")
	h.mustRun(t, nil, "version", "checkout", initial.ID, dest)
	restored, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "region,amount\nnorth,10\nsouth,\n", string(restored))

	var pruned versions.PruneResult
	h.mustRun(t, &pruned, "version", "prune", project.ID, "--keep", "1")
	require.Equal(t, 1, pruned.Kept)
	require.Equal(t, []string{history[1].ID}, pruned.Deleted)

	for _, id := range h.requestIDs {
		require.Len(t, id, 32)
	}
}

func TestCLIApplyFailurePrintsExecution(t *testing.T) {
	h := newCLIHarness(t)
	csvPath := h.writeFile(t, "in.csv", "a\n1\n")

	var project domain.Project
	h.mustRun(t, &project, "project", "create", "p")
	var v domain.Version
	h.mustRun(t, &v, "version", "import", project.ID, csvPath, "-m", "seed")
	var session domain.Session
	h.mustRun(t, &session, "session", "create", project.ID, "--title", "t")

	out, err := h.run("session", "apply", session.ID, "--code", "boom", "-m", "explode")
	require.Error(t, err)
	require.Equal(t, 6, exitCode(err))

	var execution sandbox.ExecutionResult
	require.NoError(t, json.Unmarshal(out, &execution))
	require.False(t, execution.Success)
	require.Contains(t, execution.Error, "ZeroDivisionError")

	var after domain.Session
	h.mustRun(t, &after, "session", "get", session.ID)
	require.Equal(t, v.ID, after.CurrentVersionID)
}

func TestCLIRequestIDFlag(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun(t, nil, "--request-id", "req-42", "project", "create", "p")
	require.Equal(t, []string{"req-42"}, h.requestIDs)

	events := h.mem.AuditEvents()
	require.NotEmpty(t, events)
	require.Equal(t, "req-42", events[len(events)-1].RequestID)
}

func TestCLIUnknownVersion(t *testing.T) {
	newCLIHarness(t)
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"version", "get", "0000000000000000"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, 3, exitCode(err))
}

func TestReadProgram(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.py")
	require.NoError(t, os.WriteFile(path, []byte("result = df.head(1)\n"), 0o644))

	cmd := versionImportCmd()
	require.NoError(t, cmd.Flags().Set("code-file", path))
	program, err := readProgram(cmd)
	require.NoError(t, err)
	require.Equal(t, "result = df.head(1)\n", program)

	require.NoError(t, cmd.Flags().Set("code", "result = df"))
	_, err = readProgram(cmd)
	require.True(t, domain.IsKind(err, domain.KindValidation))

	missing := versionImportCmd()
	require.NoError(t, missing.Flags().Set("code-file", filepath.Join(dir, "absent.py")))
	_, err = readProgram(missing)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestSandboxCheck(t *testing.T) {
	t.Setenv("SANDBOX_POLICY_FILE", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"sandbox", "check", "--code", "result = df.filter(pl.col('a') > 1)"})
	require.NoError(t, cmd.Execute())
	require.JSONEq(t, `{"allowed": true}`, out.String())

	cmd = newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"sandbox", "check", "--code", "import subprocess"})
	err := cmd.Execute()
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 2, exitCode(domain.NewError(domain.KindValidation, "op", "bad")))
	require.Equal(t, 4, exitCode(domain.NewError(domain.KindIntegrity, "op", "bad")))
	require.Equal(t, 5, exitCode(domain.NewError(domain.KindTimeout, "op", "slow")))
	require.Equal(t, 7, exitCode(domain.NewError(domain.KindStorage, "op", "down")))
	require.Equal(t, 130, exitCode(context.Canceled))
	require.Equal(t, 1, exitCode(errors.New("plain")))
}

func TestCLIProjectList(t *testing.T) {
	h := newCLIHarness(t)
	var first, second domain.Project
	h.mustRun(t, &first, "--author", "ana", "project", "create", "sales")
	h.mustRun(t, &second, "--author", "bo", "project", "create", "costs")

	var all []domain.Project
	h.mustRun(t, &all, "project", "list")
	require.Len(t, all, 2)

	var mine []domain.Project
	h.mustRun(t, &mine, "project", "list", "--created-by", "ana")
	require.Len(t, mine, 1)
	require.Equal(t, first.ID, mine[0].ID)

	var limited []domain.Project
	h.mustRun(t, &limited, "project", "list", "--limit", "1")
	require.Len(t, limited, 1)

	_, err := h.run("project", "list", "--limit", "-1")
	require.Equal(t, 2, exitCode(err))

	var named []domain.Project
	h.mustRun(t, &named, "project", "list", "--name", "costs")
	require.Len(t, named, 1)
	require.Equal(t, second.ID, named[0].ID)
}

func TestMetadataFlagDescribesMemoryBackend(t *testing.T) {
	flag := newRootCmd().PersistentFlags().Lookup("metadata")
	require.NotNil(t, flag)
	require.Contains(t, flag.Usage, "test-only")
	require.Contains(t, flag.Usage, "single invocation")
}
