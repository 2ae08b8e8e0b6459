package pool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoints() Endpoints {
	return Endpoints{
		P2Pool:  "127.0.0.1:3333",
		XvbEU:   DefaultXvbEU,
		XvbNA:   DefaultXvbNA,
		Address: "44addr",
		Token:   "123456789",
		Rig:     "rig1",
	}
}

func TestHTTPSwitcherRewritesPools(t *testing.T) {
	var put map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/1/config", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"donate-level": 0,
				"pools":        []any{map[string]any{"url": "old:1"}},
			})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s := NewHTTPSwitcher(srv.URL+"/", "secret", testEndpoints())
	require.NoError(t, s.Switch(context.Background(), XvbNA))

	require.NotNil(t, put)
	assert.EqualValues(t, 0, put["donate-level"], "unrelated keys survive the rewrite")
	pools, ok := put["pools"].([]any)
	require.True(t, ok)
	require.Len(t, pools, 1)
	p := pools[0].(map[string]any)
	assert.Equal(t, DefaultXvbNA, p["url"])
	assert.Equal(t, "44addr", p["user"])
	assert.Equal(t, "123456789", p["pass"])
}

func TestHTTPSwitcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "restricted", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewHTTPSwitcher(srv.URL, "", testEndpoints()).Switch(context.Background(), P2Pool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTargetAndSelect(t *testing.T) {
	eps := testEndpoints()
	tg, err := eps.Target(P2Pool)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3333", tg.URL)
	_, err = eps.Target(None)
	assert.Error(t, err)

	assert.Equal(t, XvbEU, SelectXvb(false, false))
	assert.Equal(t, XvbEU, SelectXvb(true, true))
	assert.Equal(t, XvbNA, SelectXvb(true, false))
	assert.True(t, XvbNA.IsXvb())
	assert.False(t, P2Pool.IsXvb())
	assert.Equal(t, "No where", None.String())
}
