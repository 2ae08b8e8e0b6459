// Package manager supervises the mining processes: one state machine per
// process, desired signals applied once per control cycle, and elevation
// gating for processes that must run under sudo.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/process"
)

// Name identifies a supervised process.
type Name string

const (
	Node       Name = "node"
	P2Pool     Name = "p2pool"
	Xmrig      Name = "xmrig"
	XmrigProxy Name = "xmrig_proxy"
)

// Names lists the supervised processes in start order.
var Names = []Name{Node, P2Pool, XmrigProxy, Xmrig}

var (
	ErrUnknownProcess    = errors.New("unknown process")
	ErrDuplicateProcess  = errors.New("process already registered")
	ErrElevationRequired = errors.New("elevation required")
)

// ElevationGate stores a signal to apply after a successful credential test.
type ElevationGate interface {
	SetSignal(sig process.Signal)
}

// Status describes one supervised process.
type Status struct {
	Name    Name           `json:"name"`
	State   process.State  `json:"state"`
	Desired process.Signal `json:"desired"`
	LastErr string         `json:"last_error,omitempty"`
	process.Status
}

// Result is the outcome of applying one desired signal.
type Result struct {
	Name   Name
	Signal process.Signal
	Err    error
}

type entry struct {
	mp      *ManagedProcess
	desired process.Signal
	lastErr string
}

// Supervisor owns every ManagedProcess.
type Supervisor struct {
	mu      sync.RWMutex
	entries map[Name]*entry
	order   []Name
	sink    history.Sink

	gate     ElevationGate
	required func() bool
	prepare  func(Name, process.Spec) process.Spec
}

func New(sink history.Sink) *Supervisor {
	if sink == nil {
		sink = history.Nop{}
	}
	return &Supervisor{entries: map[Name]*entry{}, sink: sink}
}

// SetElevationGate routes Start/Restart of elevated processes through g
// whenever required reports true.
func (s *Supervisor) SetElevationGate(g ElevationGate, required func() bool) {
	s.mu.Lock()
	s.gate = g
	s.required = required
	s.mu.Unlock()
}

// SetPrepare installs a hook that adjusts a spec right before each start.
func (s *Supervisor) SetPrepare(fn func(Name, process.Spec) process.Spec) {
	s.mu.Lock()
	s.prepare = fn
	s.mu.Unlock()
}

func (s *Supervisor) Register(name Name, spec process.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcess, name)
	}
	if spec.Name == "" {
		spec.Name = string(name)
	}
	s.entries[name] = &entry{mp: NewManagedProcess(spec, s.sink)}
	s.order = append(s.order, name)
	return nil
}

// Signal records sig as the desired action for name. It is applied by the
// next Reconcile.
func (s *Supervisor) Signal(name Name, sig process.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	e.desired = sig
	return nil
}

// Reconcile applies each pending desired signal once. A failed signal stays
// pending for the next call; a signal handed to the elevation gate does not.
// Start on a process that is already running counts as applied.
func (s *Supervisor) Reconcile(ctx context.Context) []Result {
	s.mu.RLock()
	var pending []Result
	for _, n := range s.order {
		if sig := s.entries[n].desired; sig != process.SignalNone {
			pending = append(pending, Result{Name: n, Signal: sig})
		}
	}
	s.mu.RUnlock()

	for i := range pending {
		r := &pending[i]
		r.Err = s.Apply(ctx, r.Name, r.Signal)
		if errors.Is(r.Err, process.ErrAlreadyRunning) {
			r.Err = nil
		}
		s.mu.Lock()
		e := s.entries[r.Name]
		if r.Err == nil || errors.Is(r.Err, ErrElevationRequired) {
			if e.desired == r.Signal {
				e.desired = process.SignalNone
			}
		}
		s.mu.Unlock()
	}
	return pending
}

// Apply runs sig against name now. Start and Restart of an elevated process
// are deferred to the elevation gate and return ErrElevationRequired.
func (s *Supervisor) Apply(ctx context.Context, name Name, sig process.Signal) error {
	e, err := s.get(name)
	if err != nil {
		return err
	}
	if sig == process.SignalStart || sig == process.SignalRestart {
		s.mu.RLock()
		gate, required := s.gate, s.required
		s.mu.RUnlock()
		if gate != nil && e.mp.Spec().Elevated && (required == nil || required()) {
			gate.SetSignal(sig)
			slog.Info("process start deferred until credentials are verified", "name", name, "signal", sig.String())
			return fmt.Errorf("%w: %s", ErrElevationRequired, name)
		}
	}
	return s.apply(ctx, name, e, sig)
}

// ApplyElevated runs sig against the miner after a successful credential test.
func (s *Supervisor) ApplyElevated(ctx context.Context, sig process.Signal) error {
	e, err := s.get(Xmrig)
	if err != nil {
		return err
	}
	return s.apply(ctx, Xmrig, e, sig)
}

func (s *Supervisor) apply(ctx context.Context, name Name, e *entry, sig process.Signal) error {
	var err error
	switch sig {
	case process.SignalStart:
		err = e.mp.Start(ctx, s.prepared(name, e.mp.Spec()))
	case process.SignalRestart:
		err = e.mp.Restart(ctx, s.prepared(name, e.mp.Spec()))
	case process.SignalStop:
		err = e.mp.Stop(ctx)
	}
	satisfied := errors.Is(err, process.ErrAlreadyRunning)
	s.mu.Lock()
	if err != nil && !satisfied {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
	s.mu.Unlock()
	switch {
	case satisfied:
		slog.Info("process already running", "name", name, "signal", sig.String())
	case err != nil:
		slog.Error("process command failed", "name", name, "signal", sig.String(), "error", err)
	}
	return err
}

func (s *Supervisor) prepared(name Name, spec process.Spec) process.Spec {
	s.mu.RLock()
	fn := s.prepare
	s.mu.RUnlock()
	if fn == nil {
		return spec
	}
	return fn(name, spec)
}

func (s *Supervisor) get(name Name) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	return e, nil
}

// Running reports whether name is registered and in the Running state.
func (s *Supervisor) Running(name Name) bool {
	e, err := s.get(name)
	return err == nil && e.mp.State() == process.StateRunning
}

func (s *Supervisor) Status(name Name) (Status, error) {
	e, err := s.get(name)
	if err != nil {
		return Status{}, err
	}
	return s.status(name, e), nil
}

func (s *Supervisor) status(name Name, e *entry) Status {
	state, ps := e.mp.Status()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Name: name, State: state, Desired: e.desired, LastErr: e.lastErr, Status: ps}
}

// StatusAll returns every process in registration order.
func (s *Supervisor) StatusAll() []Status {
	s.mu.RLock()
	order := slices.Clone(s.order)
	s.mu.RUnlock()
	out := make([]Status, 0, len(order))
	for _, n := range order {
		if e, err := s.get(n); err == nil {
			out = append(out, s.status(n, e))
		}
	}
	return out
}

// PIDs maps running process names to their pids.
func (s *Supervisor) PIDs() map[string]int {
	out := map[string]int{}
	for _, st := range s.StatusAll() {
		if st.PID > 0 {
			out[string(st.Name)] = st.PID
		}
	}
	return out
}

// Shutdown stops every process in reverse registration order.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	order := slices.Clone(s.order)
	s.mu.RUnlock()
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		e, err := s.get(order[i])
		if err != nil {
			continue
		}
		if err := e.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", order[i], err))
		}
	}
	return errors.Join(errs...)
}
