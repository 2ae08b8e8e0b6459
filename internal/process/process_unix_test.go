//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/xvbd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	p := New(Spec{Name: "sleeper", Path: "sleep", Args: []string{"30"}})
	require.NoError(t, p.Start())
	assert.True(t, p.Alive())
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)

	st := p.Snapshot()
	assert.Positive(t, st.PID)
	assert.True(t, st.Running)

	require.NoError(t, p.Stop(context.Background(), 2*time.Second))
	assert.False(t, p.Alive())
	assert.Zero(t, p.Snapshot().PID)
	assert.ErrorIs(t, p.Stop(context.Background(), time.Second), ErrNotRunning)
}

func TestStopEscalatesToKill(t *testing.T) {
	p := New(Spec{Name: "stubborn", Path: "sh", Args: []string{"-c", "trap '' TERM; sleep 30"}})
	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop(context.Background(), 200*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, p.Alive())
}

func TestOutputGoesToRotatingFiles(t *testing.T) {
	dir := t.TempDir()
	p := New(Spec{
		Name:   "echo",
		Path:   "sh",
		Args:   []string{"-c", "echo out; echo err 1>&2"},
		Output: logger.ProcessOutput{Dir: dir},
	})
	require.NoError(t, p.Start())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	out, err := os.ReadFile(filepath.Join(dir, "echo.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
	errb, err := os.ReadFile(filepath.Join(dir, "echo.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(errb))
}

func TestExitErrorRecorded(t *testing.T) {
	p := New(Spec{Name: "fail", Path: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, p.Start())
	<-p.Done()
	assert.Contains(t, p.Snapshot().ExitErr, "exit status 3")
}

func TestElevatedCommandUsesSudo(t *testing.T) {
	cmd, err := Spec{Path: "/opt/xmrig", Args: []string{"-c", "x.json"}, Elevated: true}.Command()
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "--non-interactive", "--", "/opt/xmrig", "-c", "x.json"}, cmd.Args)

	_, err = Spec{}.Command()
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestParseSignal(t *testing.T) {
	s, err := ParseSignal("Restart")
	require.NoError(t, err)
	assert.Equal(t, SignalRestart, s)
	_, err = ParseSignal("pause")
	assert.Error(t, err)
	assert.Equal(t, "stopping", StateStopping.String())
}
