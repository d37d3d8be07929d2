// Package sandbox runs untrusted transformation programs against a dataset
// snapshot inside a disposable, network-less container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/logger"
)

// FailureKind tells apart the ways a run can fail.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureTimeout    FailureKind = "timeout"
	FailureExecution  FailureKind = "execution"
	FailureProvision  FailureKind = "provision"
	FailureInternal   FailureKind = "internal"
)

const (
	sandboxUser     = "65534:65534"
	teardownTimeout = 15 * time.Second
	containerPrefix = "dp-sandbox-"
)

// ExecutionResult is the outcome of one run. Stats and OutputPath are set
// only when Success is true.
type ExecutionResult struct {
	Success    bool          `json:"success"`
	Stats      *Stats        `json:"stats,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	Kind       FailureKind   `json:"kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Traceback  string        `json:"traceback,omitempty"`
	Logs       string        `json:"logs,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Err converts a failed result into a *domain.Error. It returns nil on
// success.
func (r ExecutionResult) Err() error {
	if r.Success {
		return nil
	}
	kind := domain.KindExecution
	switch r.Kind {
	case FailureValidation:
		kind = domain.KindValidation
	case FailureTimeout:
		kind = domain.KindTimeout
	}
	return domain.NewError(kind, "sandbox."+string(r.Kind), r.Error)
}

type Executor struct {
	cfg     Config
	policy  Policy
	runtime Runtime
	log     *logger.Logger
	newName func() string
}

func NewExecutor(cfg Config, policy Policy, runtime Runtime, log *logger.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runtime == nil {
		return nil, errors.New("sandbox runtime is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		cfg:     cfg,
		policy:  policy,
		runtime: runtime,
		log:     log,
		newName: func() string { return containerPrefix + uuid.NewString() },
	}, nil
}

// Validate applies the static policy without running anything.
func (e *Executor) Validate(program string) error {
	if reason := e.policy.Check(program); reason != "" {
		return domain.NewError(domain.KindValidation, "sandbox.validate", reason)
	}
	return nil
}

// Execute runs program against the snapshot at inputPath. On success the
// transformed snapshot is moved to outputPath; on any failure outputPath is
// left untouched. Execute never returns run failures as Go errors.
func (e *Executor) Execute(ctx context.Context, program, inputPath, outputPath string) ExecutionResult {
	start := time.Now()
	result := e.execute(ctx, program, inputPath, outputPath)
	result.Duration = time.Since(start)

	outcome := "success"
	if !result.Success {
		outcome = string(result.Kind)
	}
	runsCounter.WithLabelValues(outcome).Inc()
	runDurationHistogram.WithLabelValues(outcome).Observe(result.Duration.Seconds())
	if result.Success {
		e.log.Info("sandbox run succeeded", "duration", result.Duration, "rows", result.Stats.Rows, "columns", result.Stats.Columns)
	} else {
		e.log.Warn("sandbox run failed", "kind", result.Kind, "error", result.Error, "duration", result.Duration)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, program, inputPath, outputPath string) ExecutionResult {
	if reason := e.policy.Check(program); reason != "" {
		return failure(FailureValidation, "program rejected: "+reason)
	}
	if strings.TrimSpace(outputPath) == "" {
		return failure(FailureValidation, "output path is required")
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return failure(FailureValidation, fmt.Sprintf("input snapshot: %v", err))
	}
	if info.IsDir() {
		return failure(FailureValidation, "input snapshot is a directory")
	}

	work, err := newWorkspace(e.cfg.ScratchDir)
	if err != nil {
		return failure(FailureInternal, err.Error())
	}
	defer work.cleanup(e.log)

	inputName := "input" + strings.ToLower(filepath.Ext(inputPath))
	if err := copyFile(inputPath, filepath.Join(work.inputDir, inputName), 0o644); err != nil {
		return failure(FailureInternal, fmt.Sprintf("stage input: %v", err))
	}
	if err := os.WriteFile(filepath.Join(work.scriptDir, programName), []byte(program), 0o644); err != nil {
		return failure(FailureInternal, fmt.Sprintf("write program: %v", err))
	}
	script, err := renderHarness(harnessParams{
		InputPath:   containerInputDir + "/" + inputName,
		OutputPath:  containerOutputDir + "/" + resultName,
		ProgramPath: containerWorkDir + "/" + programName,
	})
	if err != nil {
		return failure(FailureInternal, err.Error())
	}
	if err := os.WriteFile(filepath.Join(work.scriptDir, scriptName), script, 0o644); err != nil {
		return failure(FailureInternal, fmt.Sprintf("write harness: %v", err))
	}

	if err := ctx.Err(); err != nil {
		return failure(FailureInternal, fmt.Sprintf("run canceled: %v", err))
	}
	if err := e.runtime.EnsureImage(ctx, e.cfg.Image); err != nil {
		return failure(FailureProvision, err.Error())
	}

	name := e.newName()
	spec := RunSpec{
		Name:    name,
		Image:   e.cfg.Image,
		Command: []string{"python", containerWorkDir + "/" + scriptName},
		WorkDir: containerWorkDir,
		User:    sandboxUser,
		Mounts: []Mount{
			{Source: work.scriptDir, Target: containerWorkDir, ReadOnly: true},
			{Source: work.inputDir, Target: containerInputDir, ReadOnly: true},
			{Source: work.outputDir, Target: containerOutputDir},
		},
		Limits: Limits{
			Memory:    e.cfg.MemoryLimit,
			CPUs:      e.cfg.CPULimit,
			Pids:      e.cfg.PidsLimit,
			TmpfsSize: e.cfg.TmpfsSize,
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	defer e.teardown(ctx, name)

	out, runErr := e.runtime.Run(runCtx, spec)
	logs := tail(out.Stdout+out.Stderr, 4096)
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res := failure(FailureTimeout, fmt.Sprintf("execution exceeded %s", e.cfg.Timeout))
		res.Logs = logs
		return res
	case ctx.Err() != nil:
		return failure(FailureInternal, fmt.Sprintf("run canceled: %v", ctx.Err()))
	case runErr != nil:
		return failure(FailureProvision, runErr.Error())
	case out.ExitCode == dockerExitProvision:
		res := failure(FailureProvision, "environment could not be started: "+strings.TrimSpace(tail(out.Stderr, 1024)))
		res.Logs = logs
		return res
	case out.ExitCode != 0:
		res := failure(FailureExecution, fmt.Sprintf("program exited with code %d", out.ExitCode))
		if parsed, ok := parseFailure(out.Stdout); ok {
			res.Error = parsed.Error
			res.Traceback = parsed.Traceback
		}
		res.Logs = logs
		return res
	}

	stats, err := parseStats(out.Stdout)
	if err != nil {
		res := failure(FailureExecution, err.Error())
		res.Logs = logs
		return res
	}
	staged := filepath.Join(work.outputDir, resultName)
	if _, err := os.Stat(staged); err != nil {
		return failure(FailureExecution, "program produced no output snapshot")
	}
	if err := moveFile(staged, outputPath); err != nil {
		return failure(FailureInternal, fmt.Sprintf("publish output: %v", err))
	}
	return ExecutionResult{Success: true, Stats: &stats, OutputPath: outputPath}
}

// teardown removes the container with a context detached from the caller,
// so a cancelled or timed out run still releases it.
func (e *Executor) teardown(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := e.runtime.Remove(rmCtx, name); err != nil {
		teardownFailuresCounter.Inc()
		e.log.Error("sandbox teardown failed", "container", name, "error", err)
	}
}

func failure(kind FailureKind, msg string) ExecutionResult {
	return ExecutionResult{Success: false, Kind: kind, Error: msg}
}

type workspace struct {
	root      string
	scriptDir string
	inputDir  string
	outputDir string
}

// newWorkspace lays out per-run host directories. They are world readable
// (output world writable) because the container runs as an unprivileged
// uid that does not own them.
func newWorkspace(base string) (*workspace, error) {
	root, err := os.MkdirTemp(base, "datapilot-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	w := &workspace{
		root:      root,
		scriptDir: filepath.Join(root, "script"),
		inputDir:  filepath.Join(root, "input"),
		outputDir: filepath.Join(root, "output"),
	}
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{root, 0o755},
		{w.scriptDir, 0o755},
		{w.inputDir, 0o755},
		{w.outputDir, 0o777},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		if err := os.Chmod(d.path, d.mode); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return w, nil
}

func (w *workspace) cleanup(log *logger.Logger) {
	if err := os.RemoveAll(w.root); err != nil {
		log.Warn("sandbox workspace cleanup failed", "path", w.root, "error", err)
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// moveFile renames src to dst, copying through a temp file next to dst when
// the two are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	tmp := dst + ".part"
	if err := copyFile(src, tmp, 0o640); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
