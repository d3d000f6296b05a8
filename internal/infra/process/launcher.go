package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// Launcher spawns provider processes and hands back their stdio streams
// plus a Handle owning the OS-level lifecycle.
type Launcher struct {
	logger *zap.Logger
	probe  diagnostics.Probe
}

type LauncherOptions struct {
	Logger *zap.Logger
	Probe  diagnostics.Probe
}

func NewLauncher(opts LauncherOptions) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = diagnostics.NoopProbe{}
	}
	return &Launcher{
		logger: logger.Named("launcher"),
		probe:  probe,
	}
}

// Start spawns the provider process described by spec. The environment
// overlay is merged onto the inherited environment; on key collision the
// overlay wins because it is appended last. Spawn failures are classified
// and reported, never retried.
func (l *Launcher) Start(ctx context.Context, spec domain.ProviderSpec) (domain.IOStreams, *Handle, error) {
	started := time.Now()
	if len(spec.Cmd) == 0 {
		err := fmt.Errorf("%w: cmd is required", domain.ErrInvalidCommand)
		l.recordStart(spec, started, err)
		return domain.IOStreams{}, nil, err
	}

	l.logger.Debug("spawning provider",
		telemetry.EventField(telemetry.EventSpawnAttempt),
		telemetry.ProviderField(spec.Name),
		zap.String("executable", spec.Cmd[0]),
	)

	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = append(os.Environ(), formatEnv(spec.Env)...)
	groupCleanup := setupProcessHandling(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		err = fmt.Errorf("stdout pipe: %w", err)
		l.recordStart(spec, started, err)
		return domain.IOStreams{}, nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		err = fmt.Errorf("stdin pipe: %w", err)
		l.recordStart(spec, started, err)
		return domain.IOStreams{}, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		err = fmt.Errorf("stderr pipe: %w", err)
		l.recordStart(spec, started, err)
		return domain.IOStreams{}, nil, err
	}

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("start command: %w", classifyStartError(err))
		l.recordStart(spec, started, err)
		return domain.IOStreams{}, nil, err
	}
	l.recordStart(spec, started, nil)

	downstreamLogger := l.logger.With(
		zap.String(telemetry.FieldLogSource, telemetry.LogSourceDownstream),
		telemetry.ProviderField(spec.Name),
		zap.String(telemetry.FieldLogStream, "stderr"),
	)
	go mirrorStderr(stderr, downstreamLogger)

	handle := &Handle{
		cmd:          cmd,
		streams:      domain.IOStreams{Reader: stdout, Writer: stdin},
		groupCleanup: groupCleanup,
		logger:       l.logger.With(telemetry.ProviderField(spec.Name)),
	}
	return handle.streams, handle, nil
}

// Handle owns one spawned provider process. It has no protocol knowledge.
type Handle struct {
	cmd          *exec.Cmd
	streams      domain.IOStreams
	groupCleanup func()
	logger       *zap.Logger

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}

	termOnce sync.Once
}

// PID returns the OS process id, or 0 when the process never started.
func (h *Handle) PID() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// IsAlive reports whether the process is still running.
func (h *Handle) IsAlive() bool {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return false
	}
	select {
	case <-h.waitDone():
		return false
	default:
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Terminate stops the process with a two-stage protocol: SIGTERM, wait up
// to grace, then SIGKILL the process group. Idempotent; never returns an
// error for an already-dead process.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	var err error
	h.termOnce.Do(func() {
		_ = h.streams.Writer.Close()
		_ = h.streams.Reader.Close()

		if sigErr := h.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			h.logger.Debug("terminate signal failed", zap.Error(sigErr))
		}

		graceTimer := time.NewTimer(grace)
		defer graceTimer.Stop()
		select {
		case <-h.waitDone():
		case <-graceTimer.C:
			h.logger.Warn("grace period elapsed, killing process group",
				zap.Int("pid", h.PID()),
				telemetry.DurationField(grace),
			)
			if h.groupCleanup != nil {
				h.groupCleanup()
			}
			<-h.waitDone()
		case <-ctx.Done():
			if h.groupCleanup != nil {
				h.groupCleanup()
			}
			<-h.waitDone()
			err = ctx.Err()
		}
	})
	return err
}

// waitDone lazily starts the reaper goroutine and returns its completion
// channel. Wait is called exactly once per process.
func (h *Handle) waitDone() chan struct{} {
	h.waitOnce.Do(func() {
		h.done = make(chan struct{})
		go func() {
			h.waitErr = normalizeExitError(h.cmd.Wait())
			close(h.done)
		}()
	})
	return h.done
}

func normalizeExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Lines longer than this are logged truncated; the remainder is discarded.
const maxStderrLineLength = 32 * 1024

func mirrorStderr(reader io.Reader, logger *zap.Logger) {
	buf := bufio.NewReaderSize(reader, maxStderrLineLength)
	for {
		line, isPrefix, err := buf.ReadLine()
		if len(line) > 0 {
			trimmed := strings.TrimRight(string(line), "\r")
			if isPrefix {
				trimmed += "... [truncated]"
				for isPrefix && err == nil {
					_, isPrefix, err = buf.ReadLine()
				}
			}
			if trimmed != "" {
				logger.Info(trimmed)
			}
		}
		if err != nil {
			return
		}
	}
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := sortedKeys(env)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func classifyStartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, exec.ErrNotFound) || errors.Is(pathErr.Err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, err.Error())
		}
		if errors.Is(pathErr.Err, os.ErrPermission) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err.Error())
		}
	}
	return err
}

func (l *Launcher) recordStart(spec domain.ProviderSpec, started time.Time, err error) {
	event := diagnostics.Event{
		Category: diagnostics.CategoryProcess,
		Provider: spec.Name,
		Payload: map[string]string{
			"executable": executableOf(spec),
			"argCount":   strconv.Itoa(argCountOf(spec)),
		},
	}
	if err != nil {
		event.Message = "spawn failed"
		event.Error = err.Error()
	} else {
		event.Message = "spawned"
		event.Payload["duration"] = time.Since(started).String()
	}
	l.probe.Record(event)
}

func executableOf(spec domain.ProviderSpec) string {
	if len(spec.Cmd) == 0 {
		return ""
	}
	return spec.Cmd[0]
}

func argCountOf(spec domain.ProviderSpec) int {
	if len(spec.Cmd) == 0 {
		return 0
	}
	return len(spec.Cmd) - 1
}
