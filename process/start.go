package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrNotRunning is returned when stopping a process that has already exited.
var ErrNotRunning = errors.New("process: not running")

// Handle supervises a child started with Start.
type Handle struct {
	cmd     *exec.Cmd
	grace   time.Duration
	started time.Time
	done    chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Start launches cmd without waiting for it. The child runs until it exits
// on its own, Stop is called, or ctx is cancelled.
func Start(ctx context.Context, cmd Command) (*Handle, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}
	c := build(ctx, cmd)
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("process: start %s: %w", cmd.Binary, err)
	}

	h := &Handle{cmd: c, grace: cmd.grace(), started: time.Now(), done: make(chan struct{})}
	go func() {
		err := c.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Uptime returns how long ago the child was started.
func (h *Handle) Uptime() time.Duration { return time.Since(h.started) }

// Done is closed when the child exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the child has not exited yet.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the exit error once the child has exited, nil while running.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// ExitCode returns the exit code, or -1 while running or when killed.
func (h *Handle) ExitCode() int {
	if h.Running() {
		return -1
	}
	return exitCode(h.cmd)
}

// Wait blocks until the child exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sends SIGTERM to the process group and SIGKILL if the child is
// still alive after the grace period or when ctx ends first.
func (h *Handle) Stop(ctx context.Context) error {
	if !h.Running() {
		return ErrNotRunning
	}
	pgid := -h.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("process: sigterm: %w", err)
	}

	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("process: sigkill: %w", err)
	}
	<-h.done
	return nil
}

// LineWriter returns an io.Writer that calls fn once per complete line.
// It is safe for concurrent use by a child's stdout and stderr.
func LineWriter(fn func(line string)) io.Writer {
	return &lineWriter{fn: fn}
}

type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.fn(strings.TrimRight(line, "\r\n"))
	}
}
