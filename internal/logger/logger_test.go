package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandlerFormats(t *testing.T) {
	for _, format := range []string{"", "text", "json", "color"} {
		var buf bytes.Buffer
		h, err := NewHandler(&buf, format, nil)
		require.NoError(t, err, format)
		slog.New(h).Info("pool switched", "pool", "XvB EU")
		assert.Contains(t, buf.String(), "pool switched", format)
	}
	_, err := NewHandler(&bytes.Buffer{}, "xml", nil)
	assert.Error(t, err)
}

func TestColorHandlerKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil)).With("component", "control")
	l.Warn("stats fetch failed")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN")
	assert.Contains(t, out, "component=control")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "xvbd.log")
	l, closer, err := New(Options{Level: "info", Format: "json", File: path})
	require.NoError(t, err)
	l.Info("hello", "k", 1)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}

func TestProcessOutputWriters(t *testing.T) {
	out, errw, err := ProcessOutput{}.Writers("xmrig")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Nil(t, errw)

	dir := t.TempDir()
	out, errw, err = ProcessOutput{Dir: dir}.Writers("xmrig")
	require.NoError(t, err)
	_, _ = out.Write([]byte("speed 10s/60s/15m\n"))
	require.NoError(t, out.Close())
	require.NoError(t, errw.Close())

	b, err := os.ReadFile(filepath.Join(dir, "xmrig.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "speed 10s/60s/15m\n", string(b))
}
