package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Process is one run of a training child process. Its output is relayed
// through the coordinator's logger.
type Process struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string

	cmd     *exec.Cmd
	logger  zerolog.Logger
	started time.Time
	mu      sync.Mutex
	done    chan struct{}
	exitErr error
}

const interruptGrace = 5 * time.Second

// NewProcess prepares a process. It does not start it.
func NewProcess(command string, args []string, env map[string]string, logger zerolog.Logger) *Process {
	p := &Process{ID: uuid.NewString()[:8], Command: command, Args: args, Env: env, done: make(chan struct{})}
	p.logger = logger.With().Str("process_id", p.ID).Logger()
	return p
}

// Start launches the process. Cancelling ctx kills it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.ID)
	}
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	// A child solver checkpoints on interrupt; kill only after the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = interruptGrace
	cmd.Env = os.Environ()
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Command, err)
	}
	p.cmd = cmd
	p.started = time.Now()
	p.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", p.Args).Msg("Launched training process")

	var readers sync.WaitGroup
	readers.Add(2)
	go p.relay("stdout", stdout, &readers)
	go p.relay("stderr", stderr, &readers)
	go p.monitor(&readers)
	return nil
}

// Wait blocks until the process exits and returns its exit code. A non-zero
// exit is reported through the code, not the error.
func (p *Process) Wait() (int, error) {
	<-p.done
	var exitErr *exec.ExitError
	switch {
	case p.exitErr == nil:
		return 0, nil
	case errors.As(p.exitErr, &exitErr) && exitErr.ExitCode() >= 0:
		return exitErr.ExitCode(), nil
	default:
		return -1, p.exitErr
	}
}

func (p *Process) monitor(readers *sync.WaitGroup) {
	defer close(p.done)
	// Pipes must be drained before Wait closes them.
	readers.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	ev := p.logger.Debug()
	if err != nil {
		ev = p.logger.Warn().Err(err)
	}
	ev.Dur("ran", time.Since(p.started)).Msg("Training process exited")
}

// relay forwards child output line by line. JSON log lines from a child
// solver keep their level, message and iteration; anything else is logged
// verbatim at info.
func (p *Process) relay(stream string, pipe io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	lines := bufio.NewScanner(pipe)
	lines.Buffer(make([]byte, 64*1024), 1024*1024)
	for lines.Scan() {
		raw := lines.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry childLog
		if raw[0] != '{' || json.Unmarshal(raw, &entry) != nil {
			p.logger.Info().Str("stream", stream).Msg(string(raw))
			continue
		}
		level, err := zerolog.ParseLevel(entry.Level)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		ev := p.logger.WithLevel(level).Str("stream", stream)
		if entry.Iteration != nil {
			ev = ev.Int64("iteration", *entry.Iteration)
		}
		if entry.Error != "" {
			ev = ev.Str("child_error", entry.Error)
		}
		ev.Msg(entry.Message)
	}
	if err := lines.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug().Err(err).Str("stream", stream).Msg("Output relay stopped")
	}
}

type childLog struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Iteration *int64 `json:"iteration"`
	Error     string `json:"error"`
}
