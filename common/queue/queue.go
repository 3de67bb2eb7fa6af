package queue

import (
	"context"
	"sync"

	"github.com/fmzchao/studio/common/logger"
)

// Queue interface for message passing between the engine and its sinks
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// MemoryQueue is an in-process queue used for best-effort async delivery of
// trace and log events to their sinks
type MemoryQueue struct {
	topics  map[string]chan *Message
	bufSize int
	mu      sync.RWMutex
	log     *logger.Logger
	closed  bool
}

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger, bufSize int) *MemoryQueue {
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &MemoryQueue{
		topics:  make(map[string]chan *Message),
		bufSize: bufSize,
		log:     log,
	}
}

// Publish publishes a message to a topic. Delivery is best-effort: when the
// topic buffer is full the message is dropped with a warning rather than
// blocking the scheduler.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Message, q.bufSize)
		q.topics[topic] = ch
	}
	q.mu.Unlock()

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		q.log.Warn("queue full, dropping message", "topic", topic, "key", key)
		return nil
	}
}

// Subscribe subscribes to a topic and processes messages until the context is
// cancelled or the queue is closed
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Message, q.bufSize)
		q.topics[topic] = ch
	}
	q.mu.Unlock()

	q.log.Debug("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Debug("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for topic, ch := range q.topics {
		close(ch)
		q.log.Debug("closed topic", "topic", topic)
	}

	return nil
}
