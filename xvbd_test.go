package xvbd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xvbd/internal/config"
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/pool"
	"github.com/loykin/xvbd/internal/process"
	"github.com/loykin/xvbd/internal/state"
)

func testConfig() Config {
	cfg := config.Default()
	cfg.General.Metrics = false
	cfg.General.APIListen = ""
	cfg.Xmrig.API = ""
	cfg.P2Pool.Enabled = false
	cfg.Xmrig.Path = "/bin/true"
	return cfg
}

func TestNewRegistersEnabledProcesses(t *testing.T) {
	d, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	all := d.Supervisor.StatusAll()
	require.Len(t, all, 1)
	assert.Equal(t, manager.Xmrig, all[0].Name)
	assert.Equal(t, process.SignalStart, all[0].Desired)
	assert.Nil(t, d.Loop.Switcher)
	assert.False(t, d.Loop.DonationEnabled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Xvb.Mode = "sideways"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewWithHistory(t *testing.T) {
	cfg := testConfig()
	cfg.General.HistoryDSN = "sqlite://" + t.TempDir() + "/history.db"
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestHandlerServesStatus(t *testing.T) {
	d, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"xmrig"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Xmrig.Enabled = false
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMinerTargetFollowsCurrentPool(t *testing.T) {
	rt := state.NewRuntime(config.Default().Settings())
	eps := pool.Endpoints{P2Pool: "127.0.0.1:3333", XvbEU: pool.DefaultXvbEU, Address: "4abc", Token: "123456789", Rig: "rig"}
	prep := minerTarget(rt, eps, false)
	spec := process.Spec{Args: []string{"--url", "127.0.0.1:3333", "--user", "rig"}}

	// on P2Pool the args are untouched
	assert.Equal(t, spec, prep(manager.Xmrig, spec))

	rt.SetCurrentPool(pool.XvbEU, time.Now())
	got := prep(manager.Xmrig, spec)
	assert.Equal(t, []string{"--url", pool.DefaultXvbEU, "--user", "4abc", "--pass", "123456789", "--rig-id", "rig"}, got.Args)
	assert.Equal(t, []string{"--url", "127.0.0.1:3333", "--user", "rig"}, spec.Args)

	// other processes are never rewritten
	assert.Equal(t, spec, prep(manager.P2Pool, spec))
	// with a proxy in front, the proxy carries the pool target
	proxied := minerTarget(rt, eps, true)
	assert.Equal(t, spec, proxied(manager.Xmrig, spec))
	assert.Contains(t, proxied(manager.XmrigProxy, spec).Args, pool.DefaultXvbEU)
}
