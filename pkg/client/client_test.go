package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)
	return c
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"phase":"idle","settings":{"mode":"Hero"},"stats":{"fails":2,"current_pool":"P2Pool"},
			"processes":[{"name":"xmrig","state":"running","pid":42,"running":true}],"sudo":{"hide":true}}`))
	})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hero", st.Settings.Mode)
	assert.Equal(t, uint64(2), st.Stats.Fails)
	assert.Nil(t, st.Decision)
	require.Len(t, st.Processes, 1)
	assert.Equal(t, 42, st.Processes[0].PID)
	assert.True(t, st.Sudo.Hide)
	assert.True(t, c.IsReachable(context.Background()))
}

func TestSetMode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req ModeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Mode)
		assert.Nil(t, req.Buffer)
		_, _ = w.Write([]byte(`{"mode":"` + *req.Mode + `"}`))
	})
	mode := "Auto"
	s, err := c.SetMode(context.Background(), ModeRequest{Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, "Auto", s.Mode)
}

func TestSignalErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process/nope/start", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown process: nope"}`))
	})
	err := c.Signal(context.Background(), "nope", "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown process")
}

func TestSudo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var req SudoRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "pw", req.Password)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"testing":true,"msg":"Testing password..."}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	s, err := c.SubmitSecret(context.Background(), SudoRequest{Password: "pw"})
	require.NoError(t, err)
	assert.True(t, s.Testing)

	s, err = c.SudoState(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Success)
}

func TestPlainHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Status(context.Background())
	require.EqualError(t, err, "HTTP 500")
	assert.False(t, c.IsReachable(context.Background()))
}

func TestNewBadCACert(t *testing.T) {
	_, err := New(Config{CACert: "/nonexistent/ca.pem"})
	require.Error(t, err)
}
