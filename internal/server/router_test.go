package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/control"
	"github.com/loykin/xvbd/internal/hashrate"
	"github.com/loykin/xvbd/internal/history"
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/process"
	"github.com/loykin/xvbd/internal/state"
	"github.com/loykin/xvbd/internal/sudo"
)

type fakeLoop struct{ triggers atomic.Int32 }

func (f *fakeLoop) Phase() control.Phase { return control.Idle }
func (f *fakeLoop) Trigger()             { f.triggers.Add(1) }

type fakeApplier struct {
	mu      sync.Mutex
	applied []process.Signal
}

func (f *fakeApplier) ApplyElevated(_ context.Context, sig process.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, sig)
	return nil
}

func (f *fakeApplier) signals() []process.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Signal(nil), f.applied...)
}

type fixture struct {
	h       http.Handler
	deps    Deps
	loop    *fakeLoop
	applier *fakeApplier
}

func setup(t *testing.T, base string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := manager.New(history.Nop{})
	require.NoError(t, sup.Register(manager.Xmrig, process.Spec{Path: "/bin/true"}))
	st := sudo.NewState()
	ap := &fakeApplier{}
	tester := sudo.NewTester(st, nil, ap)
	tester.Required = func() bool { return false }
	loop := &fakeLoop{}
	deps := Deps{
		Runtime:   state.NewRuntime(allocation.Settings{Metric: hashrate.Hash}),
		Processes: sup,
		Sudo:      st,
		Tester:    tester,
		Loop:      loop,
		Metrics:   promhttp.Handler(),
	}
	return &fixture{h: NewRouter(deps, base).Handler(), deps: deps, loop: loop, applier: ap}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func ptr[T any](v T) *T { return &v }

func TestStatus(t *testing.T) {
	f := setup(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body["phase"])
	assert.NotContains(t, body, "decision")
	procs, ok := body["processes"].([]any)
	require.True(t, ok)
	assert.Len(t, procs, 1)
	sudoState, ok := body["sudo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, sudoState["hide"])
}

func TestStatusIncludesDecision(t *testing.T) {
	f := setup(t, "")
	f.deps.Runtime.SetDecision(allocation.Decision{Observed: 1000})
	rec := doReq(t, f.h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"decision"`)
}

func TestModeUpdatesRuntime(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/mode", ModeRequest{
		Mode:          ptr("manual_xvb"),
		DonationLevel: ptr("whale"),
		ManualAmount:  ptr(4.5),
		Metric:        ptr("kilo"),
		Buffer:        ptr(25),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s := f.deps.Runtime.Settings()
	assert.Equal(t, allocation.ManualXvb, s.Kind)
	assert.Equal(t, allocation.DonorWhale, s.Level)
	assert.Equal(t, hashrate.Kilo, s.Metric)
	assert.InDelta(t, 4500, s.ManualAmountRaw, 1e-9)
	assert.Equal(t, 25, s.Buffer)
	assert.Equal(t, int32(1), f.loop.triggers.Load())
}

func TestModeRejectsBadFieldAtomically(t *testing.T) {
	f := setup(t, "")
	before := f.deps.Runtime.Settings()
	rec := doReq(t, f.h, http.MethodPost, "/mode", ModeRequest{
		Mode:          ptr("hero"),
		DonationLevel: ptr("platinum"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, f.deps.Runtime.Settings())
	assert.Zero(t, f.loop.triggers.Load())

	rec = doReq(t, f.h, http.MethodPost, "/mode", ModeRequest{ManualAmount: ptr(-1.0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessSignal(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/process/xmrig/restart", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	st, err := f.deps.Processes.Status(manager.Xmrig)
	require.NoError(t, err)
	assert.Equal(t, process.SignalRestart, st.Desired)
	assert.Equal(t, int32(1), f.loop.triggers.Load())
}

func TestProcessSignalErrors(t *testing.T) {
	f := setup(t, "")
	cases := []struct {
		path string
		code int
	}{
		{"/process/p2pool/start", http.StatusNotFound},
		{"/process/xmrig/pause", http.StatusBadRequest},
		{"/process/xmrig/none", http.StatusBadRequest},
		{"/process/bad..name/start", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := doReq(t, f.h, http.MethodPost, tc.path, nil)
		assert.Equal(t, tc.code, rec.Code, tc.path)
	}
}

func TestSudoSubmitRunsTest(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/sudo", SudoRequest{Password: Secret("hunter2"), Signal: "restart"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2")

	require.Eventually(t, func() bool {
		s := f.deps.Sudo.Snapshot()
		return !s.Testing && s.Success
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []process.Signal{process.SignalRestart}, f.applier.signals())
	assert.Zero(t, f.deps.Sudo.Snapshot().SecretLen)

	rec = doReq(t, f.h, http.MethodGet, "/sudo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestSudoKeepsPendingSignal(t *testing.T) {
	f := setup(t, "")
	f.deps.Sudo.SetSignal(process.SignalRestart)

	rec := doReq(t, f.h, http.MethodPost, "/sudo", map[string]string{"password": "pw"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		s := f.deps.Sudo.Snapshot()
		return !s.Testing && s.Success
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []process.Signal{process.SignalRestart}, f.applier.signals())
}

func TestDecodeSudoRequestClearsBody(t *testing.T) {
	body := []byte(`{"password":"a\"b\\c\u00e9\ud83d\ude00","signal":"stop"}`)
	req, err := decodeSudoRequest(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\"b\\c\u00e9\U0001F600"), []byte(req.Password))
	assert.Equal(t, "stop", req.Signal)
	assert.Equal(t, make([]byte, len(body)), body)

	_, err = decodeSudoRequest([]byte(`{"password":42}`))
	assert.Error(t, err)
	_, err = decodeSudoRequest([]byte(`{"password":"x"`))
	assert.Error(t, err)
}

func TestSudoRejectsBadInput(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/sudo", SudoRequest{Password: Secret("pw"), Signal: "pause"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := make([]byte, sudo.SecretCapacity+1)
	for i := range long {
		long[i] = 'a'
	}
	rec = doReq(t, f.h, http.MethodPost, "/sudo", SudoRequest{Password: Secret(long)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.applier.signals())
}

func TestMetricsMounted(t *testing.T) {
	f := setup(t, "")
	rec := doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMountPath(t *testing.T) {
	for in, want := range map[string]string{
		"":        "",
		" / ":     "",
		"api/":    "/api",
		"/a/b":    "/a/b",
		"//a//b/": "/a/b",
		"/a/../b": "/b",
	} {
		assert.Equal(t, want, mountPath(in), in)
	}
}

func TestValidProcessName(t *testing.T) {
	assert.True(t, validProcessName("xmrig_proxy"))
	assert.True(t, validProcessName("p2pool"))
	assert.False(t, validProcessName(""))
	assert.False(t, validProcessName("bad..name"))
	assert.False(t, validProcessName("Xmrig"))
	assert.False(t, validProcessName("a/b"))
}
