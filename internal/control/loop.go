// Package control runs the poll-decide-act cycle that keeps the miner's pool
// and the supervised processes in line with the allocation settings.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/metrics"
	"github.com/loykin/xvbd/internal/pool"
	"github.com/loykin/xvbd/internal/state"
	"github.com/loykin/xvbd/internal/stats"
)

// DefaultPeriod is the interval between cycles.
const DefaultPeriod = 10 * time.Second

// Phase is the position of the loop within a cycle.
type Phase int

const (
	Idle Phase = iota
	Polling
	Deciding
	Acting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Deciding:
		return "deciding"
	case Acting:
		return "acting"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Poller yields a stats snapshot.
type Poller interface {
	Poll(ctx context.Context) (stats.Snapshot, error)
}

// Processes applies desired process signals.
type Processes interface {
	Reconcile(ctx context.Context) []manager.Result
}

// ActionError is a failed pool switch or process command.
type ActionError struct {
	Action string // "switch", "start", "stop", "restart"
	Target string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Target, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Loop is the control loop. Fields must be set before Run.
type Loop struct {
	Period    time.Duration
	Engine    *allocation.Engine
	Runtime   *state.Runtime
	Stats     Poller
	Switcher  pool.Switcher // nil disables pool switching
	Processes Processes     // nil disables process reconciliation
	Sink      history.Sink
	// XvbPool is the donation endpoint used when the engine picks XvB.
	XvbPool pool.Pool
	// DonationEnabled is false when no donation token is configured.
	DonationEnabled bool
	Now             func() time.Time

	mu         sync.Mutex
	phase      Phase
	cycleStart time.Time
	trigger    chan struct{}
	once       sync.Once
}

func (l *Loop) init() {
	l.once.Do(func() {
		l.trigger = make(chan struct{}, 1)
		if l.Now == nil {
			l.Now = time.Now
		}
		if l.Engine == nil {
			l.Engine = allocation.NewEngine()
		}
		if l.Sink == nil {
			l.Sink = history.Nop{}
		}
		if l.Period <= 0 {
			l.Period = DefaultPeriod
		}
		l.cycleStart = l.Now()
	})
}

func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

// Trigger requests an early cycle. It never blocks.
func (l *Loop) Trigger() {
	l.init()
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run executes a cycle immediately and then every Period until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.init()
	slog.Info("control loop started", "period", l.Period, "cycle", l.Engine.Cycle, "donation", l.DonationEnabled)
	t := time.NewTicker(l.Period)
	defer t.Stop()
	for {
		if err := l.RunOnce(ctx); err != nil {
			slog.Debug("cycle finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("control loop stopped")
			return ctx.Err()
		case <-t.C:
		case <-l.trigger:
		}
	}
}

// RunOnce performs one Polling, Deciding, Acting pass. Poll failures count
// toward the failure counter and keep the previous allocation, with its pool
// re-resolved for the current point in the cycle. Action
// failures are recorded in the runtime message and retried next cycle.
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	l.init()
	defer func() {
		if r := recover(); r != nil {
			l.Runtime.IncFails()
			l.Runtime.SetMessage(fmt.Sprintf("internal error: %v", r))
			slog.Error("control cycle panicked", "panic", r)
			metrics.IncCycle("panic")
			err = fmt.Errorf("control cycle panic: %v", r)
		}
		l.setPhase(Idle)
	}()

	l.setPhase(Polling)
	snap, pollErr := l.Stats.Poll(ctx)
	l.Runtime.ObserveDonor(snap.Donor.Round, snap.Donor.Win, snap.Donor.Donor1h, snap.Donor.Donor24h)

	var d allocation.Decision
	var have bool
	if pollErr != nil {
		fails := l.Runtime.IncFails()
		slog.Warn("stats poll failed, keeping previous allocation", "fails", fails, "error", pollErr)
		if d, have = l.Runtime.Decision(); have {
			d = l.Engine.Reslice(d, l.XvbPool, l.Now().Sub(l.cycleStart), l.Runtime.Stats().CurrentPool)
			l.Runtime.SetDecision(d)
		}
	} else {
		l.setPhase(Deciding)
		d, have = l.decide(snap), true
	}

	l.setPhase(Acting)
	var errs []error
	if pollErr != nil {
		errs = append(errs, pollErr)
	}
	if have {
		if err := l.switchPool(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, l.reconcile(ctx)...)

	switch {
	case pollErr != nil:
		metrics.IncCycle("degraded")
	case len(errs) > 0:
		metrics.IncCycle("action_failed")
	default:
		metrics.IncCycle("ok")
	}
	return errors.Join(errs...)
}

func (l *Loop) decide(snap stats.Snapshot) allocation.Decision {
	rs := l.Runtime.Stats()
	in := allocation.Input{
		Settings:        l.Runtime.Settings(),
		Proxy:           snap.Proxy,
		Miner:           snap.Miner,
		LocalFloor:      snap.LocalFloor,
		Round:           snap.Donor.Round,
		Win:             snap.Donor.Win,
		Donor1h:         snap.Donor.Donor1h,
		Donor24h:        snap.Donor.Donor24h,
		DonationEnabled: l.DonationEnabled,
		XvbPool:         l.XvbPool,
		CurrentPool:     rs.CurrentPool,
		Elapsed:         l.Now().Sub(l.cycleStart),
	}
	d := l.Engine.Decide(in)

	prev, had := l.Runtime.Decision()
	l.Runtime.SetDecision(d)
	metrics.ObserveDecision(d.Mode.String(), d.Observed, d.Donation, d.Share)
	if !had || prev.Mode != d.Mode || prev.Donation != d.Donation {
		slog.Info("allocation decided",
			"mode", d.Mode.String(), "observed", d.Observed, "source", d.Source,
			"donation", d.Donation, "xvb_for", d.XvbFor, "pool", d.Pool.String())
		l.record(history.Event{Type: history.EventDecision, Mode: d.Mode.String(), Pool: d.Pool.String(), Observed: d.Observed, Donation: d.Donation})
	}
	return d
}

func (l *Loop) switchPool(ctx context.Context, d allocation.Decision) error {
	if l.Switcher == nil || d.Pool == pool.None {
		return nil
	}
	if d.Pool == l.Runtime.Stats().CurrentPool {
		l.Runtime.SetMessage(l.indicator(d))
		return nil
	}
	if err := l.Switcher.Switch(ctx, d.Pool); err != nil {
		metrics.IncPoolSwitch(d.Pool.String(), false)
		ae := &ActionError{Action: "switch", Target: d.Pool.String(), Err: err}
		l.Runtime.SetMessage(ae.Error())
		slog.Error("pool switch failed", "pool", d.Pool.String(), "error", err)
		return ae
	}
	l.Runtime.SetCurrentPool(d.Pool, l.Now())
	l.Runtime.SetMessage(l.indicator(d))
	metrics.IncPoolSwitch(d.Pool.String(), true)
	slog.Info("pool switched", "pool", d.Pool.String(), "donation", d.Donation)
	l.record(history.Event{Type: history.EventPoolSwitch, Mode: d.Mode.String(), Pool: d.Pool.String(), Observed: d.Observed, Donation: d.Donation})
	return nil
}

func (l *Loop) reconcile(ctx context.Context) []error {
	if l.Processes == nil {
		return nil
	}
	var errs []error
	for _, r := range l.Processes.Reconcile(ctx) {
		if r.Err == nil || errors.Is(r.Err, manager.ErrElevationRequired) {
			continue
		}
		ae := &ActionError{Action: r.Signal.String(), Target: string(r.Name), Err: r.Err}
		l.Runtime.SetMessage(ae.Error())
		errs = append(errs, ae)
	}
	return errs
}

// indicator describes where the miner is and when it next moves.
func (l *Loop) indicator(d allocation.Decision) string {
	cycle := l.Engine.Cycle
	if cycle <= 0 {
		cycle = allocation.DefaultCycle
	}
	in := l.Now().Sub(l.cycleStart) % cycle
	var left time.Duration
	switch {
	case d.Pool.IsXvb():
		left = d.XvbFor - in
	case d.XvbFor > 0:
		left = cycle - in
	default:
		return fmt.Sprintf("Mining on %s", d.Pool)
	}
	return fmt.Sprintf("Mining on %s, next switch in %s", d.Pool, left.Round(time.Second))
}

func (l *Loop) record(e history.Event) {
	e.OccurredAt = l.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Sink.Send(ctx, e); err != nil {
		slog.Debug("history send failed", "type", e.Type, "error", err)
	}
}
