package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status represents the external process status.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInit       Status = "INIT"
	StatusRunning    Status = "RUNNING"
	StatusStopped    Status = "STOPPED"
	StatusFailed     Status = "FAILED"
)

// ExternalProcess is the capability a server supervisor needs from the
// process it owns. Builder is the real implementation; Fake advances through
// the same state machine on wall-clock time without spawning anything.
type ExternalProcess interface {
	// Run spawns the process; when wait is true it blocks until exit.
	Run(wait bool) error
	Status() Status
	// Stop requests termination. The supervised process family lacks
	// cooperative shutdown, so Stop escalates directly to Kill.
	Stop()
	Kill()
	// WriteStdin writes one line to the process. Outside RUNNING the write
	// is dropped with a warning.
	WriteStdin(line string) error
	// ReadOutput drains buffered stdout/stderr and logs it. Never blocks.
	ReadOutput()
	// ExitCode returns the exit code, or -1 while the process has not exited.
	ExitCode() int
	// PID returns the OS process id, or 0 if nothing was spawned.
	PID() int
}

const defaultStdinDelay = 20 * time.Second

// Builder wraps one external OS process: argv, parameter-stdin written once
// at start, env overrides, streaming output, and the status state machine.
type Builder struct {
	executable     string
	args           []string
	parameterStdin []string
	env            []string
	stdinDelay     time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startTime time.Time
	exitCode  int
	doneCh    chan struct{}

	outMu    sync.Mutex
	outLines []string
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithStdinDelay overrides how long after spawn the process is considered
// still initializing.
func WithStdinDelay(d time.Duration) BuilderOption {
	return func(b *Builder) { b.stdinDelay = d }
}

// NewBuilder creates a process builder for the given executable.
func NewBuilder(executable string, logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		executable: executable,
		stdinDelay: defaultStdinDelay,
		logger:     logger,
		exitCode:   -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddArgument appends argv entries.
func (b *Builder) AddArgument(args ...string) {
	b.args = append(b.args, args...)
}

// AddParameterStdin appends a line written to stdin once at start, e.g. a
// steam password.
func (b *Builder) AddParameterStdin(line string) {
	b.parameterStdin = append(b.parameterStdin, line)
}

// SetEnv appends K=V overrides merged over the parent environment at spawn.
func (b *Builder) SetEnv(kv ...string) {
	b.env = append(b.env, kv...)
}

// Status derives the process state: unstarted, exited (clean or not), or
// running with an initial grace window after spawn.
func (b *Builder) Status() Status {
	b.mu.Lock()
	startTime := b.startTime
	doneCh := b.doneCh
	exitCode := b.exitCode
	b.mu.Unlock()

	if startTime.IsZero() {
		return StatusNotStarted
	}

	select {
	case <-doneCh:
		if exitCode == 0 {
			return StatusStopped
		}
		return StatusFailed
	default:
	}

	if time.Since(startTime) < b.stdinDelay {
		return StatusInit
	}
	return StatusRunning
}

// Run spawns the process with argv, merges parent env with overrides, writes
// the parameter-stdin block, and marks the start time. With wait it blocks
// until the process exits.
func (b *Builder) Run(wait bool) error {
	b.mu.Lock()
	if !b.startTime.IsZero() {
		b.mu.Unlock()
		return fmt.Errorf("process %s already started", b.executable)
	}
	b.mu.Unlock()

	cmd := exec.Command(b.executable, b.args...)
	cmd.Env = append(os.Environ(), b.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	b.logger.Info("starting process",
		zap.String("executable", b.executable),
		zap.Strings("args", b.args))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	doneCh := make(chan struct{})
	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.startTime = time.Now()
	b.doneCh = doneCh
	b.mu.Unlock()

	b.logger.Info("process started", zap.Int("pid", cmd.Process.Pid))

	if len(b.parameterStdin) > 0 {
		var block strings.Builder
		for _, line := range b.parameterStdin {
			block.WriteString(line)
			block.WriteByte('\n')
		}
		if _, err := io.WriteString(stdin, block.String()); err != nil {
			b.logger.Warn("failed to write parameter stdin", zap.Error(err))
		}
	}

	go b.bufferOutput("", stdout)
	go b.bufferOutput("stderr: ", stderr)

	go func() {
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		b.mu.Lock()
		b.exitCode = code
		b.mu.Unlock()
		close(doneCh)
		b.logger.Info("process exited",
			zap.Int("pid", cmd.Process.Pid),
			zap.Int("exit_code", code),
			zap.Error(err))
	}()

	if wait {
		<-doneCh
	}
	return nil
}

// bufferOutput reads one stream line by line into the output buffer, which
// ReadOutput drains without blocking.
func (b *Builder) bufferOutput(prefix string, reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.outMu.Lock()
		b.outLines = append(b.outLines, prefix+scanner.Text())
		b.outMu.Unlock()
	}
}

// ReadOutput drains buffered stdout/stderr lines to the logger.
func (b *Builder) ReadOutput() {
	b.outMu.Lock()
	lines := b.outLines
	b.outLines = nil
	b.outMu.Unlock()

	for _, line := range lines {
		b.logger.Info(line)
	}
}

// Stop requests termination; it escalates directly to Kill. A no-op outside
// INIT and RUNNING.
func (b *Builder) Stop() {
	b.Kill()
}

// Kill terminates the process. A no-op outside INIT and RUNNING.
func (b *Builder) Kill() {
	status := b.Status()
	if status != StatusInit && status != StatusRunning {
		return
	}

	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	b.logger.Info("killing process", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil {
		b.logger.Warn("failed to kill process", zap.Error(err))
	}
}

// WriteStdin writes one line to the running process, appending a newline if
// missing. Outside RUNNING the write is dropped with a warning.
func (b *Builder) WriteStdin(line string) error {
	status := b.Status()
	if status != StatusRunning {
		b.logger.Warn("process not running, dropping stdin write",
			zap.String("status", string(status)))
		return nil
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()

	if _, err := io.WriteString(stdin, line); err != nil {
		return fmt.Errorf("failed to write stdin: %w", err)
	}
	b.logger.Info("wrote to stdin", zap.String("line", strings.TrimSuffix(line, "\n")))
	return nil
}

// ExitCode returns the exit code, or -1 while the process has not exited.
func (b *Builder) ExitCode() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitCode
}

// PID returns the process id, or 0 before the process has started.
func (b *Builder) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil && b.cmd.Process != nil {
		return b.cmd.Process.Pid
	}
	return 0
}
