package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/env"
	"github.com/animus-labs/datapilot/internal/platform/logger"
	"github.com/animus-labs/datapilot/internal/platform/postgres"
	"github.com/animus-labs/datapilot/internal/platform/requestid"
	"github.com/animus-labs/datapilot/internal/repo"
	"github.com/animus-labs/datapilot/internal/repo/memory"
	repopg "github.com/animus-labs/datapilot/internal/repo/postgres"
	"github.com/animus-labs/datapilot/internal/sandbox"
	"github.com/animus-labs/datapilot/internal/service/sessions"
	"github.com/animus-labs/datapilot/internal/service/versions"
	"github.com/animus-labs/datapilot/internal/storage/blob"
)

const (
	metadataPostgres = "postgres"
	metadataMemory   = "memory"
)

// app holds the wired components for one invocation.
type app struct {
	log      *logger.Logger
	versions *versions.Manager
	sessions *sessions.Service
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.log.Sync()
}

// appFactory is swapped in tests.
var appFactory = newApp

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	log, err := logger.New(env.String("LOG_MODE", "dev"), env.String("LOG_LEVEL", "warn"))
	if err != nil {
		return nil, err
	}
	a := &app{log: log}

	backend, _ := cmd.Flags().GetString("metadata")
	var (
		projects repo.ProjectRepository
		records  repo.VersionRepository
		pointers repo.SessionRepository
		audit    repo.AuditEventAppender
	)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case metadataPostgres:
		db, err := openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		projects = repopg.NewProjectStore(db)
		records = repopg.NewVersionStore(db)
		pointers = repopg.NewSessionStore(db)
		audit = repopg.NewAuditAppender(db)
	case metadataMemory:
		log.Warn("memory metadata backend keeps records for this invocation only")
		store := memory.New()
		projects = store.Projects()
		records = store.Versions()
		pointers = store.Sessions()
		audit = store
	default:
		return nil, fmt.Errorf("unsupported metadata backend %q", backend)
	}

	blobCfg, err := blob.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("blob config: %w", err)
	}
	blobs, err := blob.Open(ctx, blobCfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	versionsCfg, err := versions.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("versions config: %w", err)
	}
	manager, err := versions.NewManager(versionsCfg, projects, records, blobs, blobCfg.Bucket, audit, log)
	if err != nil {
		return nil, err
	}
	a.versions = manager

	sandboxCfg, err := sandbox.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("sandbox config: %w", err)
	}
	executor := &lazyExecutor{cfg: sandboxCfg, log: log}

	svc, err := sessions.NewService(pointers, manager, executor, audit, versionsCfg.ScratchDir, log)
	if err != nil {
		return nil, err
	}
	a.sessions = svc
	return a, nil
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

// lazyExecutor defers the docker lookup until a program actually runs, so
// commands that never execute anything work on hosts without docker.
type lazyExecutor struct {
	cfg  sandbox.Config
	log  *logger.Logger
	once sync.Once
	exec *sandbox.Executor
	err  error
}

func (l *lazyExecutor) get() (*sandbox.Executor, error) {
	l.once.Do(func() {
		policy, err := sandbox.LoadPolicy(l.cfg.PolicyFile)
		if err != nil {
			l.err = err
			return
		}
		runtime, err := sandbox.NewDockerRuntime(l.cfg.DockerBin)
		if err != nil {
			l.err = err
			return
		}
		l.exec, l.err = sandbox.NewExecutor(l.cfg, policy, runtime, l.log)
	})
	return l.exec, l.err
}

func (l *lazyExecutor) Execute(ctx context.Context, program, inputPath, outputPath string) sandbox.ExecutionResult {
	exec, err := l.get()
	if err != nil {
		return sandbox.ExecutionResult{Kind: sandbox.FailureProvision, Error: err.Error()}
	}
	return exec.Execute(ctx, program, inputPath, outputPath)
}

// withApp builds the app, tags the context with a request id and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	id, _ := cmd.Flags().GetString("request-id")
	if strings.TrimSpace(id) == "" {
		generated, err := requestid.New()
		if err != nil {
			return err
		}
		id = generated
	}
	ctx = requestid.WithContext(ctx, id)

	a, err := appFactory(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func author(cmd *cobra.Command) string {
	value, _ := cmd.Flags().GetString("author")
	return strings.TrimSpace(value)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return 2
	case domain.KindNotFound:
		return 3
	case domain.KindIntegrity:
		return 4
	case domain.KindTimeout:
		return 5
	case domain.KindExecution:
		return 6
	case domain.KindStorage:
		return 7
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
