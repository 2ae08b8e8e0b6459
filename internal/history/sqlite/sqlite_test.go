package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/xvbd/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkRecordsEvents(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://" + filepath.Join(t.TempDir(), "h.db")} {
		s, err := New(dsn)
		require.NoError(t, err, dsn)

		ctx := context.Background()
		now := time.Now()
		require.NoError(t, s.Send(ctx, history.Event{Type: history.EventProcessStart, OccurredAt: now, Process: "xmrig", PID: 42, State: "running"}))
		require.NoError(t, s.Send(ctx, history.Event{Type: history.EventPoolSwitch, OccurredAt: now, Pool: "XvB EU", Donation: 5_000}))
		require.NoError(t, s.Send(ctx, history.Event{Type: history.EventPoolSwitch, OccurredAt: now, Pool: "P2Pool"}))

		n, err := s.Count(ctx, history.EventPoolSwitch)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.NoError(t, s.Close())
	}
}

func TestEmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
