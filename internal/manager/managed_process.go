package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/metrics"
	"github.com/loykin/xvbd/internal/process"
)

var errShuttingDown = errors.New("process manager shutting down")

// healthInterval is how often the state machine checks for an exited child.
var healthInterval = time.Second

// stopProcess terminates a child within grace.
var stopProcess = (*process.Process).Stop

// ManagedProcess drives one process through
// Stopped -> Starting -> Running -> Stopping -> Stopped. Restart re-enters
// Starting directly from Running. All transitions happen on a single
// goroutine fed by a command channel.
type ManagedProcess struct {
	mu    sync.RWMutex
	state process.State
	proc  *process.Process
	sink  history.Sink
	grace time.Duration

	cmdChan  chan command
	doneChan chan struct{}
}

type command struct {
	ctx    context.Context
	action process.Signal
	spec   *process.Spec
	reply  chan error
	// shutdown stops the child and exits the state machine.
	shutdown bool
}

func NewManagedProcess(spec process.Spec, sink history.Sink) *ManagedProcess {
	if sink == nil {
		sink = history.Nop{}
	}
	mp := &ManagedProcess{
		state:    process.StateStopped,
		proc:     process.New(spec),
		sink:     sink,
		grace:    process.DefaultStopGrace,
		cmdChan:  make(chan command, 16),
		doneChan: make(chan struct{}),
	}
	go mp.runStateMachine()
	return mp
}

// Start launches the process with spec, replacing the stored spec.
func (mp *ManagedProcess) Start(ctx context.Context, spec process.Spec) error {
	return mp.send(command{ctx: ctx, action: process.SignalStart, spec: &spec})
}

func (mp *ManagedProcess) Stop(ctx context.Context) error {
	return mp.send(command{ctx: ctx, action: process.SignalStop})
}

// Restart stops a running child and starts it again with spec.
func (mp *ManagedProcess) Restart(ctx context.Context, spec process.Spec) error {
	return mp.send(command{ctx: ctx, action: process.SignalRestart, spec: &spec})
}

// Shutdown stops the child and terminates the state machine.
func (mp *ManagedProcess) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case mp.cmdChan <- command{ctx: ctx, shutdown: true, reply: reply}:
		return <-reply
	case <-mp.doneChan:
		return nil
	}
}

func (mp *ManagedProcess) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case mp.cmdChan <- c:
	case <-mp.doneChan:
		return errShuttingDown
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	return <-c.reply
}

func (mp *ManagedProcess) State() process.State {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.state
}

func (mp *ManagedProcess) Spec() process.Spec { return mp.proc.Spec() }

// Status returns the process snapshot together with the machine state.
func (mp *ManagedProcess) Status() (process.State, process.Status) {
	return mp.State(), mp.proc.Snapshot()
}

func (mp *ManagedProcess) runStateMachine() {
	defer close(mp.doneChan)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case c := <-mp.cmdChan:
			if c.shutdown {
				c.reply <- mp.handleStop(c.ctx)
				return
			}
			c.reply <- mp.handleCommand(c)
		case <-ticker.C:
			mp.checkHealth()
		}
	}
}

func (mp *ManagedProcess) handleCommand(c command) error {
	if c.spec != nil {
		mp.proc.UpdateSpec(*c.spec)
	}
	switch c.action {
	case process.SignalStart:
		return mp.handleStart()
	case process.SignalStop:
		return mp.handleStop(c.ctx)
	case process.SignalRestart:
		return mp.handleRestart(c.ctx)
	}
	return nil
}

func (mp *ManagedProcess) handleStart() error {
	mp.checkHealth()
	switch st := mp.State(); st {
	case process.StateStopped:
		return mp.doStart()
	case process.StateRunning:
		return fmt.Errorf("%w: %q (pid %d)", process.ErrAlreadyRunning, mp.proc.Name(), mp.proc.Snapshot().PID)
	default:
		return fmt.Errorf("process %q is %s", mp.proc.Name(), st)
	}
}

func (mp *ManagedProcess) doStart() error {
	mp.setState(process.StateStarting)
	if err := mp.proc.Start(); err != nil {
		mp.setState(process.StateStopped)
		return err
	}
	mp.setState(process.StateRunning)
	mp.record(history.EventProcessStart, "")
	return nil
}

func (mp *ManagedProcess) handleStop(ctx context.Context) error {
	switch mp.State() {
	case process.StateStopped:
		return nil
	case process.StateStopping:
		return fmt.Errorf("process %q already stopping", mp.proc.Name())
	}
	mp.setState(process.StateStopping)
	if err := mp.stopChild(ctx); err != nil {
		if mp.proc.Alive() {
			mp.setState(process.StateRunning)
			return err
		}
		mp.setState(process.StateStopped)
		mp.record(history.EventProcessStop, err.Error())
		return err
	}
	mp.setState(process.StateStopped)
	mp.record(history.EventProcessStop, "")
	return nil
}

func (mp *ManagedProcess) handleRestart(ctx context.Context) error {
	mp.checkHealth()
	if mp.State() != process.StateRunning {
		return mp.handleStart()
	}
	mp.setState(process.StateStarting)
	if err := mp.stopChild(ctx); err != nil {
		if mp.proc.Alive() {
			mp.setState(process.StateRunning)
			return err
		}
		mp.setState(process.StateStopped)
		mp.record(history.EventProcessStop, err.Error())
		return err
	}
	mp.record(history.EventProcessStop, "restart")
	if err := mp.proc.Start(); err != nil {
		mp.setState(process.StateStopped)
		return err
	}
	mp.setState(process.StateRunning)
	mp.record(history.EventProcessStart, "restart")
	return nil
}

func (mp *ManagedProcess) stopChild(ctx context.Context) error {
	if err := stopProcess(mp.proc, ctx, mp.grace); err != nil && !errors.Is(err, process.ErrNotRunning) {
		return err
	}
	return nil
}

// checkHealth moves a Running machine to Stopped when its child has exited.
func (mp *ManagedProcess) checkHealth() {
	if mp.State() != process.StateRunning || mp.proc.Alive() {
		return
	}
	slog.Warn("process exited unexpectedly", "name", mp.proc.Name(), "error", mp.proc.Snapshot().ExitErr)
	mp.setState(process.StateStopped)
	mp.record(history.EventProcessStop, mp.proc.Snapshot().ExitErr)
}

func (mp *ManagedProcess) setState(s process.State) {
	mp.mu.Lock()
	old := mp.state
	mp.state = s
	mp.mu.Unlock()
	if old != s {
		slog.Debug("process state", "name", mp.proc.Name(), "from", old.String(), "to", s.String())
		metrics.RecordStateTransition(mp.proc.Name(), old.String(), s.String())
	}
}

func (mp *ManagedProcess) record(t history.EventType, msg string) {
	st := mp.proc.Snapshot()
	pid := st.PID
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Process:    st.Name,
		PID:        pid,
		State:      mp.State().String(),
		Message:    msg,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mp.sink.Send(ctx, e); err != nil {
		slog.Debug("history send failed", "type", t, "error", err)
	}
}
