package spill

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/storage"
)

// TestMaybeSpill_UnderThreshold verifies small outputs pass untouched
func TestMaybeSpill_UnderThreshold(t *testing.T) {
	store := storage.NewMemoryStore(logger.Discard())
	spiller := NewSpiller(store, 1024, logger.Discard())

	output := map[string]interface{}{"small": "value"}
	got, spilled, err := spiller.MaybeSpill(context.Background(), "run-1", "node-1", output)
	require.NoError(t, err)
	assert.False(t, spilled)
	assert.Equal(t, output, got)
	assert.Equal(t, 0, store.Len())
}

// TestMaybeSpill_OverThreshold verifies oversized outputs move to the store
// behind a decodable marker
func TestMaybeSpill_OverThreshold(t *testing.T) {
	store := storage.NewMemoryStore(logger.Discard())
	spiller := NewSpiller(store, 100, logger.Discard())

	output := map[string]interface{}{"blob": strings.Repeat("x", 500)}
	got, spilled, err := spiller.MaybeSpill(context.Background(), "run-1", "node-1", output)
	require.NoError(t, err)
	assert.True(t, spilled)
	assert.Equal(t, 1, store.Len())

	marker, ok := IsMarker(got)
	require.True(t, ok)
	assert.NotEmpty(t, marker.StorageRef)
	assert.Greater(t, marker.OriginalSize, int64(500))
	assert.Empty(t, marker.Handle)
}

// TestIsMarker_WireShapes verifies decoding tolerates the numeric types a
// JSON round trip produces and rejects near-misses
func TestIsMarker_WireShapes(t *testing.T) {
	marker, ok := IsMarker(map[string]interface{}{
		"__spilled__":  true,
		"storageRef":   "obj-1",
		"originalSize": float64(2048),
	})
	require.True(t, ok)
	assert.Equal(t, "obj-1", marker.StorageRef)
	assert.Equal(t, int64(2048), marker.OriginalSize)

	for name, value := range map[string]interface{}{
		"not a map":      "plain string",
		"flag false":     map[string]interface{}{"__spilled__": false, "storageRef": "x"},
		"missing ref":    map[string]interface{}{"__spilled__": true},
		"empty ref":      map[string]interface{}{"__spilled__": true, "storageRef": ""},
		"flag not bool":  map[string]interface{}{"__spilled__": "true", "storageRef": "x"},
		"ordinary value": map[string]interface{}{"result": 1},
	} {
		if _, ok := IsMarker(value); ok {
			t.Errorf("%s: expected no marker", name)
		}
	}
}

// TestMarker_Tagged verifies tagging copies the marker with the requested
// handle without mutating the original
func TestMarker_Tagged(t *testing.T) {
	marker := &Marker{StorageRef: "obj-1", OriginalSize: 10}
	tagged := marker.Tagged("field")

	decoded, ok := IsMarker(tagged)
	require.True(t, ok)
	assert.Equal(t, "field", decoded.Handle)
	assert.Equal(t, "obj-1", decoded.StorageRef)
	assert.Empty(t, marker.Handle)
}

// TestMaterializer_ResolveHandles verifies whole-payload and per-field
// extraction after download
func TestMaterializer_ResolveHandles(t *testing.T) {
	store := storage.NewMemoryStore(logger.Discard())
	spiller := NewSpiller(store, 10, logger.Discard())
	ctx := context.Background()

	output := map[string]interface{}{"greeting": "hello world", "count": float64(3)}
	inline, spilled, err := spiller.MaybeSpill(ctx, "run-1", "node-1", output)
	require.NoError(t, err)
	require.True(t, spilled)
	marker, _ := IsMarker(inline)

	m := NewMaterializer(store)

	whole, err := m.Resolve(ctx, &Marker{StorageRef: marker.StorageRef})
	require.NoError(t, err)
	assert.Equal(t, output, whole)

	field, err := m.Resolve(ctx, &Marker{StorageRef: marker.StorageRef, Handle: "greeting"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", field)

	missing, err := m.Resolve(ctx, &Marker{StorageRef: marker.StorageRef, Handle: "absent"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestMaterializer_CachesDownloads verifies one download serves every
// handle of the same storage ref
func TestMaterializer_CachesDownloads(t *testing.T) {
	store := storage.NewMemoryStore(logger.Discard())
	spiller := NewSpiller(store, 10, logger.Discard())
	ctx := context.Background()

	inline, _, err := spiller.MaybeSpill(ctx, "run-1", "node-1",
		map[string]interface{}{"a": "first", "b": "second"})
	require.NoError(t, err)
	marker, _ := IsMarker(inline)

	m := NewMaterializer(store)
	first, err := m.Resolve(ctx, &Marker{StorageRef: marker.StorageRef, Handle: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", first)

	// The object is gone but the parsed payload is cached
	require.NoError(t, store.Delete(ctx, marker.StorageRef))
	second, err := m.Resolve(ctx, &Marker{StorageRef: marker.StorageRef, Handle: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second", second)
}

// TestMaterializer_MissingObject verifies a dangling ref surfaces an error
func TestMaterializer_MissingObject(t *testing.T) {
	store := storage.NewMemoryStore(logger.Discard())
	m := NewMaterializer(store)
	_, err := m.Resolve(context.Background(), &Marker{StorageRef: "dangling"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangling")
}

// TestNewSpiller_DefaultThreshold verifies non-positive thresholds select
// the default
func TestNewSpiller_DefaultThreshold(t *testing.T) {
	spiller := NewSpiller(storage.NewMemoryStore(logger.Discard()), 0, logger.Discard())
	assert.Equal(t, DefaultThreshold, spiller.Threshold())
}
