package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/wferrors"
)

// TestMemoryStore_RoundTrip verifies upload, download, and metadata
func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(logger.Discard())
	ctx := context.Background()

	id := NewID()
	require.NotEmpty(t, id)
	require.NoError(t, store.Upload(ctx, id, "run-1/node.json", []byte(`{"a":1}`), "application/json"))
	assert.Equal(t, 1, store.Len())

	data, meta, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)
	assert.Equal(t, "run-1/node.json", meta.Name)
	assert.Equal(t, "application/json", meta.Mime)
	assert.Equal(t, int64(7), meta.Size)
	assert.False(t, meta.CreatedAt.IsZero())
}

// TestMemoryStore_DownloadMissing verifies the not-found classification
func TestMemoryStore_DownloadMissing(t *testing.T) {
	store := NewMemoryStore(logger.Discard())
	_, _, err := store.Download(context.Background(), "nope")
	require.Error(t, err)

	var notFound *wferrors.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

// TestMemoryStore_Delete verifies removal and that deleting twice is fine
func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(logger.Discard())
	ctx := context.Background()

	id := NewID()
	require.NoError(t, store.Upload(ctx, id, "x", []byte("data"), "text/plain"))
	require.NoError(t, store.Delete(ctx, id))
	assert.Equal(t, 0, store.Len())
	require.NoError(t, store.Delete(ctx, id))
}

// TestMemoryStore_Isolation verifies callers cannot mutate stored bytes
// through the slices they hold
func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore(logger.Discard())
	ctx := context.Background()

	payload := []byte("original")
	id := NewID()
	require.NoError(t, store.Upload(ctx, id, "x", payload, "text/plain"))
	payload[0] = 'X'

	data, _, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)

	data[0] = 'Y'
	again, _, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

// TestNewID_Unique verifies ids do not collide across calls
func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
