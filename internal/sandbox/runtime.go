package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrImageNotFound = errors.New("sandbox image not found")

// Runtime provisions and destroys isolated environments.
type Runtime interface {
	Kind() string
	// EnsureImage fails with ErrImageNotFound when image is not available
	// locally. Runs never pull images.
	EnsureImage(ctx context.Context, image string) error
	// Run blocks until the environment exits or ctx ends. A non-zero exit is
	// reported through RunOutput, not as an error.
	Run(ctx context.Context, spec RunSpec) (RunOutput, error)
	// Remove destroys the environment. Removing an unknown name is not an
	// error.
	Remove(ctx context.Context, name string) error
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type Limits struct {
	Memory    string
	CPUs      float64
	Pids      int
	TmpfsSize string
}

type RunSpec struct {
	Name    string
	Image   string
	Command []string
	WorkDir string
	User    string
	Mounts  []Mount
	Limits  Limits
}

type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

const (
	outputTailBytes     = 1 << 20
	dockerWaitDelay     = 5 * time.Second
	dockerExitProvision = 125
)

type DockerRuntime struct {
	dockerBin string
}

func NewDockerRuntime(dockerBin string) (*DockerRuntime, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &DockerRuntime{dockerBin: dockerBin}, nil
}

func (r *DockerRuntime) Kind() string {
	return "docker"
}

func (r *DockerRuntime) EnsureImage(ctx context.Context, image string) error {
	image = strings.TrimSpace(image)
	if image == "" {
		return errors.New("image ref is required")
	}
	cmd := exec.CommandContext(ctx, r.dockerBin, "image", "inspect", "--format", "{{.Id}}", image)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "no such image") || strings.Contains(lower, "not found") || strings.Contains(lower, "no such object") {
			return fmt.Errorf("%w: %s", ErrImageNotFound, text)
		}
		return fmt.Errorf("docker image inspect failed: %w: %s", err, text)
	}
	if len(strings.Fields(text)) == 0 {
		return fmt.Errorf("%w: empty docker image id", ErrImageNotFound)
	}
	return nil
}

func (r *DockerRuntime) Run(ctx context.Context, spec RunSpec) (RunOutput, error) {
	args, err := dockerRunArgs(spec)
	if err != nil {
		return RunOutput{}, err
	}
	stdout := newTailBuffer(outputTailBytes)
	stderr := newTailBuffer(outputTailBytes)
	cmd := exec.CommandContext(ctx, r.dockerBin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = dockerWaitDelay

	runErr := cmd.Run()
	out := RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("docker run failed: %w", runErr)
	}
	return out, nil
}

func (r *DockerRuntime) Remove(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("docker container name is required")
	}
	cmd := exec.CommandContext(ctx, r.dockerBin, "rm", "--force", "--volumes", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such container") || strings.Contains(text, "not found") {
			return nil
		}
		return fmt.Errorf("docker rm failed: %w: %s", err, text)
	}
	return nil
}

func dockerRunArgs(spec RunSpec) ([]string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("docker container name is required")
	}
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		return nil, errors.New("image ref is required")
	}
	if len(spec.Command) == 0 {
		return nil, errors.New("command is required")
	}

	args := []string{
		"run",
		"--name", name,
		"--pull", "never",
		"--network", "none",
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--ipc", "none",
	}
	if tmpfs := strings.TrimSpace(spec.Limits.TmpfsSize); tmpfs != "" {
		args = append(args, "--tmpfs", "/tmp:rw,size="+tmpfs+",noexec,nosuid")
	}
	if mem := strings.TrimSpace(spec.Limits.Memory); mem != "" {
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if spec.Limits.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.Limits.CPUs, 'g', -1, 64))
	}
	if spec.Limits.Pids > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.Limits.Pids))
	}
	if user := strings.TrimSpace(spec.User); user != "" {
		args = append(args, "--user", user)
	}
	if wd := strings.TrimSpace(spec.WorkDir); wd != "" {
		args = append(args, "--workdir", wd)
	}
	for _, m := range spec.Mounts {
		if strings.ContainsAny(m.Source, ",") || strings.ContainsAny(m.Target, ",") {
			return nil, fmt.Errorf("mount path must not contain commas: %s", m.Source)
		}
		mount := "type=bind,source=" + m.Source + ",target=" + m.Target
		if m.ReadOnly {
			mount += ",readonly"
		}
		args = append(args, "--mount", mount)
	}
	args = append(args, image)
	args = append(args, spec.Command...)
	return args, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
