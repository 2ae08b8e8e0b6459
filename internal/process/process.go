package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultStopGrace is how long Stop waits after a graceful signal before
// killing the process.
const DefaultStopGrace = 10 * time.Second

var ErrNotRunning = errors.New("process not running")
var ErrAlreadyRunning = errors.New("process already running")

// Status is a point-in-time view of a Process.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
	Elevated  bool      `json:"elevated"`
}

// Process owns one OS process started from a Spec. Each Start launches a
// fresh child; a background goroutine reaps it.
type Process struct {
	mu      sync.Mutex
	spec    Spec
	pid     int
	done    chan struct{}
	running bool
	started time.Time
	stopped time.Time
	exitErr error
	closers []io.Closer
}

func New(spec Spec) *Process { return &Process{spec: spec} }

func (p *Process) Name() string { return p.spec.Name }

// Spec returns a copy of the launch description.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// UpdateSpec replaces the launch description used by the next Start.
func (p *Process) UpdateSpec(s Spec) {
	p.mu.Lock()
	p.spec = s
	p.mu.Unlock()
}

// Start launches the process. It returns ErrAlreadyRunning if a previous
// child is still alive.
func (p *Process) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	spec := p.spec
	p.mu.Unlock()

	cmd, err := spec.Command()
	if err != nil {
		return err
	}
	out, errw, err := spec.Output.Writers(spec.Name)
	if err != nil {
		return err
	}
	var closers []io.Closer
	if out != nil {
		cmd.Stdout = out
		closers = append(closers, out)
	}
	if errw != nil {
		cmd.Stderr = errw
		closers = append(closers, errw)
	}
	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.pid = cmd.Process.Pid
	p.done = done
	p.running = true
	p.started = time.Now()
	p.exitErr = nil
	p.closers = closers
	p.mu.Unlock()

	slog.Info("process started", "name", spec.Name, "pid", cmd.Process.Pid, "elevated", spec.Elevated)
	go func() {
		werr := cmd.Wait()
		p.mu.Lock()
		p.running = false
		p.stopped = time.Now()
		p.exitErr = werr
		cl := p.closers
		p.closers = nil
		p.mu.Unlock()
		closeAll(cl)
		close(done)
		slog.Info("process exited", "name", spec.Name, "pid", cmd.Process.Pid, "error", werr)
	}()
	return nil
}

// Stop sends a graceful termination signal and waits up to grace for the
// process to exit, then kills it. Cancelling ctx kills immediately.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	pid, done, ok := p.current()
	if !ok {
		return ErrNotRunning
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	if err := terminate(pid); err != nil {
		slog.Warn("graceful stop failed, killing", "name", p.spec.Name, "pid", pid, "error", err)
		return p.kill(pid, done)
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		slog.Warn("process did not stop in time, killing", "name", p.spec.Name, "pid", pid, "grace", grace)
	case <-ctx.Done():
	}
	return p.kill(pid, done)
}

// Kill forcibly terminates the process and waits for it to be reaped.
func (p *Process) Kill() error {
	pid, done, ok := p.current()
	if !ok {
		return ErrNotRunning
	}
	return p.kill(pid, done)
}

func (p *Process) kill(pid int, done <-chan struct{}) error {
	if err := forceKill(pid); err != nil {
		select {
		case <-done:
			return nil
		default:
		}
		return fmt.Errorf("kill %s: %w", p.spec.Name, err)
	}
	<-done
	return nil
}

// Alive reports whether the last started child is still running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done returns a channel closed when the current child exits, or nil when
// nothing was started.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:      p.spec.Name,
		Running:   p.running,
		StartedAt: p.started,
		StoppedAt: p.stopped,
		Elevated:  p.spec.Elevated,
	}
	if p.running {
		st.PID = p.pid
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}

func (p *Process) current() (int, <-chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid, p.done, p.running
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
