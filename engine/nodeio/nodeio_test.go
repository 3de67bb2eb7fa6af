package nodeio

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/storage"
)

// TestRecorder_SmallPayloadPassesThrough verifies payloads under the limit
// reach the sink unchanged
func TestRecorder_SmallPayloadPassesThrough(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(RecorderOpts{Sink: sink, Logger: logger.Discard()})

	inputs := map[string]interface{}{"name": "job"}
	rec.RecordStart(context.Background(), Event{
		RunID:       "run-1",
		NodeRef:     "node-1",
		ComponentID: "core.util.echo",
		Inputs:      inputs,
	})

	events := sink.NodeEvents("run-1", "node-1")
	require.Len(t, events, 1)
	assert.Equal(t, EventStart, events[0].Kind)
	assert.Equal(t, inputs, events[0].Inputs)
	assert.False(t, events[0].Timestamp.IsZero())
}

// TestRecorder_OversizedPayloadSpills verifies payloads over the limit move
// to the object store behind a reference
func TestRecorder_OversizedPayloadSpills(t *testing.T) {
	sink := NewMemorySink()
	store := storage.NewMemoryStore(logger.Discard())
	rec := NewRecorder(RecorderOpts{
		Sink:           sink,
		Store:          store,
		EventSizeLimit: 100,
		Logger:         logger.Discard(),
	})

	rec.RecordCompletion(context.Background(), Event{
		RunID:   "run-1",
		NodeRef: "node-1",
		Outputs: map[string]interface{}{"blob": strings.Repeat("x", 500)},
		Status:  "completed",
	})

	events := sink.NodeEvents("run-1", "node-1")
	require.Len(t, events, 1)
	assert.Equal(t, EventCompletion, events[0].Kind)
	assert.Equal(t, 1, store.Len())

	outputs, ok := events[0].Outputs.(map[string]interface{})
	require.True(t, ok)
	ref, ok := outputs["_spilled_reference"].(string)
	require.True(t, ok)

	data, _, err := store.Download(context.Background(), ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), strings.Repeat("x", 500))
}

// TestRecorder_NoStoreDropsPayload verifies the size flag replaces the
// payload when no store is wired
func TestRecorder_NoStoreDropsPayload(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(RecorderOpts{
		Sink:           sink,
		EventSizeLimit: 100,
		Logger:         logger.Discard(),
	})

	rec.RecordStart(context.Background(), Event{
		RunID:   "run-1",
		NodeRef: "node-1",
		Inputs:  map[string]interface{}{"blob": strings.Repeat("x", 500)},
	})

	events := sink.Events()
	require.Len(t, events, 1)
	inputs, ok := events[0].Inputs.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, inputs["_spilled"])
	assert.Greater(t, inputs["size"].(int), 100)
}

// TestRecorder_TruncatesAboveHardLimit verifies the last-resort truncation
func TestRecorder_TruncatesAboveHardLimit(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(RecorderOpts{
		Sink:           sink,
		EventSizeLimit: 100,
		TruncateLimit:  200,
		Logger:         logger.Discard(),
	})

	rec.RecordStart(context.Background(), Event{
		RunID:   "run-1",
		NodeRef: "node-1",
		Inputs:  map[string]interface{}{"blob": strings.Repeat("x", 500)},
	})

	events := sink.Events()
	require.Len(t, events, 1)
	inputs, ok := events[0].Inputs.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, inputs["_truncated"])
	assert.Greater(t, inputs["_originalSize"].(int), 200)
}

// TestRecorder_NilPayloadAndNilSink verifies the recorder stays inert when
// it has nothing to do
func TestRecorder_NilPayloadAndNilSink(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(RecorderOpts{Sink: sink, Logger: logger.Discard()})
	rec.RecordStart(context.Background(), Event{RunID: "run-1", NodeRef: "n"})

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Inputs)

	// No sink at all: recording must not panic
	silent := NewRecorder(RecorderOpts{Logger: logger.Discard()})
	silent.RecordCompletion(context.Background(), Event{RunID: "run-1", NodeRef: "n"})
}

// TestRecorder_DefaultLimits verifies zero limits select the defaults
func TestRecorder_DefaultLimits(t *testing.T) {
	rec := NewRecorder(RecorderOpts{Logger: logger.Discard()})
	assert.Equal(t, DefaultEventSizeLimit, rec.eventLimit)
	assert.Equal(t, DefaultTruncateLimit, rec.truncateLimit)
}
