package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xvbd/internal/history/opensearch"
	"github.com/loykin/xvbd/internal/history/sqlite"
)

func TestNewSinkFromDSN(t *testing.T) {
	ctx := context.Background()

	s, err := NewSinkFromDSN(ctx, filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, s)
	require.NoError(t, Close(s))

	s, err = NewSinkFromDSN(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, s)
	require.NoError(t, Close(s))

	s, err = NewSinkFromDSN(ctx, "opensearch://localhost:9200/idx")
	require.NoError(t, err)
	assert.IsType(t, &opensearch.Sink{}, s)
	assert.NoError(t, Close(s))

	_, err = NewSinkFromDSN(ctx, "")
	assert.Error(t, err)
	_, err = NewSinkFromDSN(ctx, "mongodb://x")
	assert.Error(t, err)
}
