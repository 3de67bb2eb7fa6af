// Package spill keeps oversized action outputs out of the run's results map.
// Payloads above the threshold live in the object store; an inline marker
// stands in for them and is dereferenced transparently when read.
package spill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/storage"
	"github.com/fmzchao/studio/engine/workflow"
)

// DefaultThreshold is the serialized size above which outputs are spilled
const DefaultThreshold = 100 * 1024

const (
	markerKey       = "__spilled__"
	storageRefKey   = "storageRef"
	originalSizeKey = "originalSize"
	handleKey       = "__spilled_handle__"
)

// Marker is the decoded form of an inline spill placeholder
type Marker struct {
	StorageRef   string
	OriginalSize int64
	Handle       string
}

// IsMarker reports whether value is a spill marker and decodes it
func IsMarker(value interface{}) (*Marker, bool) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	spilled, ok := m[markerKey].(bool)
	if !ok || !spilled {
		return nil, false
	}
	ref, ok := m[storageRefKey].(string)
	if !ok || ref == "" {
		return nil, false
	}
	marker := &Marker{StorageRef: ref}
	switch size := m[originalSizeKey].(type) {
	case float64:
		marker.OriginalSize = int64(size)
	case int:
		marker.OriginalSize = int64(size)
	case int64:
		marker.OriginalSize = size
	}
	if handle, ok := m[handleKey].(string); ok {
		marker.Handle = handle
	}
	return marker, true
}

// ToMap returns the wire shape carried inline through results
func (m *Marker) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		markerKey:       true,
		storageRefKey:   m.StorageRef,
		originalSizeKey: m.OriginalSize,
	}
	if m.Handle != "" {
		out[handleKey] = m.Handle
	}
	return out
}

// Tagged returns a copy of the marker carrying the handle the reader asked
// for, so the runner knows which field to extract after download
func (m *Marker) Tagged(handle string) map[string]interface{} {
	tagged := &Marker{
		StorageRef:   m.StorageRef,
		OriginalSize: m.OriginalSize,
		Handle:       handle,
	}
	return tagged.ToMap()
}

// Spiller replaces oversized outputs with markers
type Spiller struct {
	store     storage.Store
	threshold int
	log       *logger.Logger
}

// NewSpiller creates a spiller; threshold <= 0 selects the default
func NewSpiller(store storage.Store, threshold int, log *logger.Logger) *Spiller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Spiller{store: store, threshold: threshold, log: log}
}

// Threshold returns the configured spill threshold in bytes
func (s *Spiller) Threshold() int {
	return s.threshold
}

// MaybeSpill uploads output to the object store when its serialized size
// exceeds the threshold and returns the replacement marker. Outputs under
// the threshold come back unchanged.
func (s *Spiller) MaybeSpill(ctx context.Context, runID, nodeRef string, output map[string]interface{}) (map[string]interface{}, bool, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, false, fmt.Errorf("marshal output of %s: %w", nodeRef, err)
	}
	if len(encoded) <= s.threshold {
		return output, false, nil
	}

	id := storage.NewID()
	name := fmt.Sprintf("%s/%s.json", runID, nodeRef)
	if err := s.store.Upload(ctx, id, name, encoded, "application/json"); err != nil {
		return nil, false, fmt.Errorf("spill output of %s: %w", nodeRef, err)
	}

	s.log.Info("output spilled to object store",
		"run_id", runID, "node_ref", nodeRef, "object_id", id, "size", len(encoded))

	marker := &Marker{StorageRef: id, OriginalSize: int64(len(encoded))}
	return marker.ToMap(), true, nil
}

// Materializer downloads spilled payloads back, caching the parsed payload
// per storage ref for the duration of one action
type Materializer struct {
	store storage.Store
	cache map[string]interface{}
}

// NewMaterializer creates a materializer with an empty cache
func NewMaterializer(store storage.Store) *Materializer {
	return &Materializer{
		store: store,
		cache: make(map[string]interface{}),
	}
}

// Resolve fetches the payload behind marker and extracts the tagged handle.
// A handle missing from the payload resolves to nil; the schema layer
// decides whether that is fatal.
func (m *Materializer) Resolve(ctx context.Context, marker *Marker) (interface{}, error) {
	payload, ok := m.cache[marker.StorageRef]
	if !ok {
		data, _, err := m.store.Download(ctx, marker.StorageRef)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", marker.StorageRef, err)
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse spilled payload %s: %w", marker.StorageRef, err)
		}
		m.cache[marker.StorageRef] = payload
	}

	if marker.Handle == "" || marker.Handle == workflow.SelfHandle {
		return payload, nil
	}
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return fields[marker.Handle], nil
}
