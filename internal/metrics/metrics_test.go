package metrics

import (
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	ObserveDecision("Hero", 20_000, 15_000, 0.75)
	assert.InDelta(t, 15_000, testutil.ToFloat64(donationHashrate), 1e-9)
	assert.InDelta(t, 0.75, testutil.ToFloat64(donationShare), 1e-9)

	before := testutil.ToFloat64(poolSwitches.WithLabelValues("XvB EU", "success"))
	IncPoolSwitch("XvB EU", true)
	assert.InDelta(t, before+1, testutil.ToFloat64(poolSwitches.WithLabelValues("XvB EU", "success")), 1e-9)

	RecordStateTransition("xmrig", "stopped", "starting")
	assert.InDelta(t, 1, testutil.ToFloat64(currentStates.WithLabelValues("xmrig", "starting")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(currentStates.WithLabelValues("xmrig", "stopped")), 1e-9)

	IncCredentialTest(false)
	IncStatsFailure("xmrig")
	IncCycle("ok")
	assert.Positive(t, testutil.ToFloat64(credentialTests.WithLabelValues("failure")))
}

func TestResourceProbeSamplesSelf(t *testing.T) {
	p := NewResourceProbe(time.Second)
	require.NoError(t, p.Register(prometheus.NewRegistry()))

	p.Collect(map[string]int{"self": os.Getpid(), "gone": 0})
	u, ok := p.Get("self")
	require.True(t, ok)
	assert.EqualValues(t, os.Getpid(), u.PID)
	assert.Positive(t, u.MemoryMB)
	_, ok = p.Get("gone")
	assert.False(t, ok)

	p.Collect(map[string]int{})
	assert.Empty(t, p.All())
}
