package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"consolerelay.dev/cli/internal/core/chunk"
	"consolerelay.dev/cli/internal/core/domain"
)

// ProcessOptions configures how the build command is started
type ProcessOptions struct {
	Options

	WorkingDir string
	Env        map[string]string
	Stdin      io.Reader

	// KillGrace is how long an interrupted build gets between SIGTERM-style
	// cancellation and a forced kill.
	KillGrace time.Duration
}

// ProcessCapture runs a build command and captures its stdout and stderr
type ProcessCapture struct {
	opts ProcessOptions
	em   *emitter

	mu        sync.RWMutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	isRunning bool
	exitCode  int
	err       error
	startTime time.Time
	done      chan struct{}
}

// NewProcessCapture creates a capture for one build
func NewProcessCapture(opts ProcessOptions) *ProcessCapture {
	opts.Options = opts.Options.withDefaults()
	if opts.KillGrace <= 0 {
		opts.KillGrace = 10 * time.Second
	}
	return &ProcessCapture{
		opts:     opts,
		em:       newEmitter(opts.QueueCapacity),
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// Start launches the command. Output is available from Chunks until the
// command exits or Stop is called.
func (p *ProcessCapture) Start(ctx context.Context, command string, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("capture already started")
	}

	logger := p.opts.Logger
	logger.Info("starting build", "command", command, "args", args)

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = p.opts.KillGrace

	if p.opts.WorkingDir != "" {
		cmd.Dir = p.opts.WorkingDir
	}
	if len(p.opts.Env) > 0 {
		env := os.Environ()
		for key, value := range p.opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cmd.Env = env
	}
	cmd.Stdin = p.opts.Stdin

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start build: %w", err)
	}

	p.cmd = cmd
	p.cancel = cancel
	p.isRunning = true
	p.startTime = time.Now()

	logger.Debug("build started", "pid", cmd.Process.Pid)

	go p.run(runCtx, stdoutR, stdoutW, stderrR, stderrW)
	return nil
}

func (p *ProcessCapture) run(ctx context.Context, stdoutR *io.PipeReader, stdoutW *io.PipeWriter, stderrR *io.PipeReader, stderrW *io.PipeWriter) {
	defer close(p.done)
	logger := p.opts.Logger

	var g errgroup.Group
	g.Go(func() error {
		// a stopped pump closes its reader so the copy into the pipe cannot block Wait
		defer stdoutR.Close()
		return p.em.pump(chunk.StreamStdout, stdoutR, p.opts.Stdout, p.opts.MaxLineSize, logger)
	})
	g.Go(func() error {
		defer stderrR.Close()
		return p.em.pump(chunk.StreamStderr, stderrR, p.opts.Stderr, p.opts.MaxLineSize, logger)
	})

	// Wait returns once the output is copied, or WaitDelay after exit if a
	// leftover child still holds the descriptors.
	waitErr := p.cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	readErr := g.Wait()

	p.mu.Lock()
	p.isRunning = false
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	if readErr != nil && ctx.Err() == nil {
		p.err = fmt.Errorf("%w: %v", domain.ErrStreamClosed, readErr)
	}
	exitCode := p.exitCode
	p.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		logger.Info("build exited", "exit_code", exitCode, "duration", time.Since(p.startTime))
	case errors.As(waitErr, &exitErr):
		logger.Info("build exited with error", "exit_code", exitCode, "duration", time.Since(p.startTime))
	default:
		logger.Warn("waiting for build failed", "error", waitErr, "exit_code", exitCode)
	}

	p.em.finish()
	p.cancel()
}

// Chunks returns the captured output stream
func (p *ProcessCapture) Chunks() <-chan chunk.LogChunk {
	return p.em.out
}

// Err returns the abnormal-close error, if any
func (p *ProcessCapture) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Stop interrupts the build and ends the capture
func (p *ProcessCapture) Stop() {
	p.em.halt()

	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the build has exited and the stream is closed
func (p *ProcessCapture) Wait() {
	p.mu.RLock()
	started := p.cmd != nil
	p.mu.RUnlock()
	if started {
		<-p.done
	}
}

// Done is closed once the build has exited
func (p *ProcessCapture) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true while the build process is running
func (p *ProcessCapture) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// ExitCode returns the build's exit code, or -1 while it is running or if it
// was killed by a signal.
func (p *ProcessCapture) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// Stats returns capture statistics
func (p *ProcessCapture) Stats() Stats {
	return p.em.snapshot()
}
