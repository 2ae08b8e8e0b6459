//go:build !windows

package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/process"
)

type fakeGate struct {
	mu  sync.Mutex
	got []process.Signal
}

func (g *fakeGate) SetSignal(sig process.Signal) {
	g.mu.Lock()
	g.got = append(g.got, sig)
	g.mu.Unlock()
}

type memSink struct {
	mu  sync.Mutex
	evs []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.evs = append(m.evs, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) count(t history.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.evs {
		if e.Type == t {
			n++
		}
	}
	return n
}

func sleeper() process.Spec {
	return process.Spec{Path: "sleep", Args: []string{"30"}}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *memSink) {
	t.Helper()
	sink := &memSink{}
	s := New(sink)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, sink
}

func TestReconcileAppliesDesiredSignalOnce(t *testing.T) {
	s, sink := newTestSupervisor(t)
	require.NoError(t, s.Register(P2Pool, sleeper()))
	ctx := context.Background()

	require.NoError(t, s.Signal(P2Pool, process.SignalStart))
	st, err := s.Status(P2Pool)
	require.NoError(t, err)
	assert.Equal(t, process.SignalStart, st.Desired)
	assert.Equal(t, process.StateStopped, st.State)

	res := s.Reconcile(ctx)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.True(t, s.Running(P2Pool))

	st, _ = s.Status(P2Pool)
	assert.Equal(t, process.SignalNone, st.Desired)
	assert.Positive(t, st.PID)
	assert.Empty(t, s.Reconcile(ctx))
	assert.Equal(t, 1, sink.count(history.EventProcessStart))
}

func TestRepeatedStartIsSatisfied(t *testing.T) {
	s, sink := newTestSupervisor(t)
	require.NoError(t, s.Register(P2Pool, sleeper()))
	ctx := context.Background()

	require.NoError(t, s.Signal(P2Pool, process.SignalStart))
	require.Len(t, s.Reconcile(ctx), 1)
	first, _ := s.Status(P2Pool)

	require.NoError(t, s.Signal(P2Pool, process.SignalStart))
	res := s.Reconcile(ctx)
	require.Len(t, res, 1)
	assert.NoError(t, res[0].Err)

	st, _ := s.Status(P2Pool)
	assert.Equal(t, process.SignalNone, st.Desired)
	assert.Equal(t, first.PID, st.PID)
	assert.Empty(t, st.LastErr)
	assert.Empty(t, s.Reconcile(ctx))
	assert.Equal(t, 1, sink.count(history.EventProcessStart))

	err := s.Apply(ctx, P2Pool, process.SignalStart)
	assert.ErrorIs(t, err, process.ErrAlreadyRunning)

	require.NoError(t, s.Signal(P2Pool, process.SignalStop))
	require.Len(t, s.Reconcile(ctx), 1)
	require.NoError(t, s.Signal(P2Pool, process.SignalStop))
	res = s.Reconcile(ctx)
	require.Len(t, res, 1)
	assert.NoError(t, res[0].Err)
	st, _ = s.Status(P2Pool)
	assert.Equal(t, process.SignalNone, st.Desired)
}

func TestRestartReplacesChild(t *testing.T) {
	s, _ := newTestSupervisor(t)
	require.NoError(t, s.Register(Node, sleeper()))
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, Node, process.SignalStart))
	first, _ := s.Status(Node)

	require.NoError(t, s.Apply(ctx, Node, process.SignalRestart))
	second, _ := s.Status(Node)
	assert.Equal(t, process.StateRunning, second.State)
	assert.NotEqual(t, first.PID, second.PID)

	require.NoError(t, s.Apply(ctx, Node, process.SignalStop))
	assert.False(t, s.Running(Node))
	assert.Empty(t, s.PIDs())
}

func TestFailedStopKeepsRunning(t *testing.T) {
	s, sink := newTestSupervisor(t)
	require.NoError(t, s.Register(Node, sleeper()))
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, Node, process.SignalStart))
	before, _ := s.Status(Node)

	orig := stopProcess
	stopProcess = func(*process.Process, context.Context, time.Duration) error {
		return errors.New("operation not permitted")
	}
	t.Cleanup(func() { stopProcess = orig })

	require.Error(t, s.Apply(ctx, Node, process.SignalStop))
	st, _ := s.Status(Node)
	assert.Equal(t, process.StateRunning, st.State)
	assert.Equal(t, before.PID, st.PID)
	assert.NotEmpty(t, st.LastErr)
	assert.Zero(t, sink.count(history.EventProcessStop))

	require.Error(t, s.Apply(ctx, Node, process.SignalRestart))
	st, _ = s.Status(Node)
	assert.Equal(t, process.StateRunning, st.State)
	assert.Equal(t, before.PID, st.PID)

	stopProcess = orig
	require.NoError(t, s.Apply(ctx, Node, process.SignalStop))
	assert.False(t, s.Running(Node))
	assert.Equal(t, 1, sink.count(history.EventProcessStop))
}

func TestFailedStartStaysPending(t *testing.T) {
	s, _ := newTestSupervisor(t)
	require.NoError(t, s.Register(XmrigProxy, process.Spec{Path: "/nonexistent/xmrig-proxy"}))
	require.NoError(t, s.Signal(XmrigProxy, process.SignalStart))

	res := s.Reconcile(context.Background())
	require.Len(t, res, 1)
	assert.Error(t, res[0].Err)

	st, _ := s.Status(XmrigProxy)
	assert.Equal(t, process.SignalStart, st.Desired)
	assert.Equal(t, process.StateStopped, st.State)
	assert.NotEmpty(t, st.LastErr)
}

func TestElevatedStartIsGated(t *testing.T) {
	s, _ := newTestSupervisor(t)
	gate := &fakeGate{}
	s.SetElevationGate(gate, func() bool { return true })
	spec := sleeper()
	spec.Elevated = true
	require.NoError(t, s.Register(Xmrig, spec))

	require.NoError(t, s.Signal(Xmrig, process.SignalRestart))
	res := s.Reconcile(context.Background())
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0].Err, ErrElevationRequired)
	assert.Equal(t, []process.Signal{process.SignalRestart}, gate.got)

	st, _ := s.Status(Xmrig)
	assert.Equal(t, process.SignalNone, st.Desired)
	assert.Equal(t, process.StateStopped, st.State)

	// Stop is never gated.
	require.NoError(t, s.Apply(context.Background(), Xmrig, process.SignalStop))
	assert.Len(t, gate.got, 1)
}

func TestPrepareAdjustsSpecBeforeStart(t *testing.T) {
	s, _ := newTestSupervisor(t)
	require.NoError(t, s.Register(Xmrig, process.Spec{Path: "sleep", Args: []string{"1"}}))
	s.SetPrepare(func(n Name, spec process.Spec) process.Spec {
		if n == Xmrig {
			spec.Args = []string{"30"}
		}
		return spec
	})

	require.NoError(t, s.ApplyElevated(context.Background(), process.SignalStart))
	st, _ := s.Status(Xmrig)
	assert.Equal(t, process.StateRunning, st.State)
	assert.Equal(t, []string{"30"}, s.entries[Xmrig].mp.Spec().Args)
}

func TestExitedChildDetected(t *testing.T) {
	old := healthInterval
	healthInterval = 20 * time.Millisecond
	defer func() { healthInterval = old }()

	s, sink := newTestSupervisor(t)
	require.NoError(t, s.Register(P2Pool, process.Spec{Path: "sh", Args: []string{"-c", "exit 0"}}))
	require.NoError(t, s.Apply(context.Background(), P2Pool, process.SignalStart))

	assert.Eventually(t, func() bool { return !s.Running(P2Pool) }, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return sink.count(history.EventProcessStop) == 1 }, time.Second, 20*time.Millisecond)
}

func TestUnknownAndDuplicate(t *testing.T) {
	s, _ := newTestSupervisor(t)
	require.NoError(t, s.Register(Node, sleeper()))
	assert.ErrorIs(t, s.Register(Node, sleeper()), ErrDuplicateProcess)
	assert.ErrorIs(t, s.Signal("miner", process.SignalStart), ErrUnknownProcess)
	_, err := s.Status("miner")
	assert.ErrorIs(t, err, ErrUnknownProcess)
	assert.ErrorIs(t, s.ApplyElevated(context.Background(), process.SignalStart), ErrUnknownProcess)
}

func TestStatusAllKeepsOrder(t *testing.T) {
	s, _ := newTestSupervisor(t)
	for _, n := range Names {
		require.NoError(t, s.Register(n, sleeper()))
	}
	var got []Name
	for _, st := range s.StatusAll() {
		got = append(got, st.Name)
	}
	assert.Equal(t, Names, got)
}
