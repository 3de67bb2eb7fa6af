// Package storage provides the object store used for spilled payloads and
// component artifacts. Objects are keyed by a fresh id so no two uploads
// collide.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/wferrors"
)

// ObjectMetadata describes a stored object
type ObjectMetadata struct {
	Name      string    `json:"name,omitempty"`
	Mime      string    `json:"mime,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the object store interface
type Store interface {
	Upload(ctx context.Context, id, name string, data []byte, mime string) error
	Download(ctx context.Context, id string) ([]byte, *ObjectMetadata, error)
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh object id
func NewID() string {
	return uuid.New().String()
}

type memoryObject struct {
	data []byte
	meta ObjectMetadata
}

// MemoryStore is an in-process store for tests and embedded runs
type MemoryStore struct {
	objects map[string]memoryObject
	mu      sync.RWMutex
	log     *logger.Logger
}

// NewMemoryStore creates an in-memory object store
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		log:     log,
	}
}

// Upload stores data under id
func (s *MemoryStore) Upload(ctx context.Context, id, name string, data []byte, mime string) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = memoryObject{
		data: copied,
		meta: ObjectMetadata{
			Name:      name,
			Mime:      mime,
			Size:      int64(len(data)),
			CreatedAt: time.Now(),
		},
	}
	s.log.Debug("object stored", "object_id", id, "size", len(data))
	return nil
}

// Download returns the object bytes and metadata for id
func (s *MemoryStore) Download(ctx context.Context, id string) ([]byte, *ObjectMetadata, error) {
	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, wferrors.NewNotFoundError("object", id)
	}

	copied := make([]byte, len(obj.data))
	copy(copied, obj.data)
	meta := obj.meta
	return copied, &meta, nil
}

// Delete removes the object for id. Deleting a missing object is not an
// error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
