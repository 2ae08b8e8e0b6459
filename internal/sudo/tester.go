// Package sudo implements the credential test that must pass before the
// miner can be started with elevated privileges.
package sudo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/xvbd/internal/process"
)

// PollPolicy bounds how long a credential check may run.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

var DefaultPollPolicy = PollPolicy{MaxAttempts: 5, Interval: time.Second}

// Applier applies a pending signal once elevation is available.
type Applier interface {
	ApplyElevated(ctx context.Context, sig process.Signal) error
}

// Tester runs credential tests against a State.
type Tester struct {
	State     *State
	Validator Validator
	Applier   Applier
	Policy    PollPolicy
	// Sleep waits between polls; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
	// Required reports whether the platform needs an explicit check.
	Required func() bool
	// OnResult, if set, observes each finished attempt.
	OnResult func(success bool)
}

func NewTester(st *State, v Validator, a Applier) *Tester {
	return &Tester{
		State:     st,
		Validator: v,
		Applier:   a,
		Policy:    DefaultPollPolicy,
		Sleep:     sleepCtx,
		Required:  elevationRequired,
	}
}

// Test starts an attempt in its own goroutine. The returned channel receives
// exactly one result and is then closed.
func (t *Tester) Test(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- t.Run(ctx)
	}()
	return ch
}

// Run performs one attempt synchronously. Whatever the outcome, the secret
// used is wiped and the pending signal and testing flag are cleared.
func (t *Tester) Run(ctx context.Context) (err error) {
	secret, sig, err := t.State.begin()
	if err != nil {
		return err
	}
	defer func() {
		secret.Wipe()
		t.State.finish()
		if t.OnResult != nil {
			t.OnResult(err == nil)
		}
	}()

	if t.Required != nil && !t.Required() {
		t.State.setResult(true, MsgCorrect)
		return t.apply(ctx, sig)
	}

	if err := t.Validator.Invalidate(ctx); err != nil {
		slog.Warn("sudo: could not reset cached credentials", "error", err)
	}
	v, err := t.Validator.Start(ctx, secret.Bytes())
	if err != nil {
		slog.Error("sudo: failed to launch validation", "error", err)
		t.State.setResult(false, fmt.Sprintf("Failed to launch sudo: %v", err))
		return &ElevationError{Op: "launch", Err: err}
	}

	ok := t.poll(ctx, v)
	if err := v.Kill(); err != nil {
		slog.Warn("sudo: failed to kill validation", "error", err)
	}
	if !ok {
		t.State.setResult(false, MsgIncorrect)
		return &ElevationError{Op: "validate", Err: ErrIncorrect}
	}
	t.State.setResult(true, MsgCorrect)
	return t.apply(ctx, sig)
}

// poll checks v up to MaxAttempts times, waiting Interval after each check
// that did not observe a successful exit.
func (t *Tester) poll(ctx context.Context, v Validation) bool {
	p := t.Policy
	if p.MaxAttempts <= 0 {
		p = DefaultPollPolicy
	}
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for i := 1; i <= p.MaxAttempts; i++ {
		done, ok, err := v.TryWait()
		switch {
		case err != nil:
			slog.Error("sudo: validation wait failed", "error", err)
			return false
		case done && ok:
			slog.Info("sudo: credentials accepted", "attempt", i)
			return true
		case done:
			slog.Info("sudo: credentials rejected", "attempt", i)
			return false
		}
		slog.Info("sudo: waiting for validation", "attempt", i, "max", p.MaxAttempts)
		if err := sleep(ctx, p.Interval); err != nil {
			return false
		}
	}
	return false
}

// apply runs the pending signal against the miner. No pending signal means start.
func (t *Tester) apply(ctx context.Context, sig process.Signal) error {
	if t.Applier == nil {
		return nil
	}
	if sig == process.SignalNone {
		sig = process.SignalStart
	}
	if err := t.Applier.ApplyElevated(ctx, sig); err != nil {
		t.State.setResult(true, fmt.Sprintf("Password accepted but %s failed: %v", sig, err))
		return &ElevationError{Op: "apply", Err: err}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsElevationError reports whether err came from a failed credential test.
func IsElevationError(err error) bool {
	var e *ElevationError
	return errors.As(err, &e)
}
