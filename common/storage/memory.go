package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scusemua/training-queue/common/queue"
)

// MemoryStore is an in-process ListStore. It is shared by reference, so several coordinators
// holding the same MemoryStore behave like processes sharing one Redis server.
type MemoryStore struct {
	*baseStore

	mu    sync.Mutex
	lists map[string]*queue.Fifo[string]
}

func NewMemoryStore() *MemoryStore {
	atom := zap.NewAtomicLevelAt(zap.WarnLevel)
	return &MemoryStore{
		baseStore: newBaseStore(&atom),
		lists:     make(map[string]*queue.Fifo[string]),
	}
}

func (s *MemoryStore) Connect(_ context.Context) error {
	s.status = Connected
	return nil
}

func (s *MemoryStore) Close() error {
	s.status = Disconnected
	return nil
}

// list returns the list stored under key, creating it if necessary. The mutex must be held.
func (s *MemoryStore) list(key string) *queue.Fifo[string] {
	l, ok := s.lists[key]
	if !ok {
		l = queue.NewFifo[string](8)
		s.lists[key] = l
	}

	return l
}

func (s *MemoryStore) PushTail(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list(key).Enqueue(value)
	return nil
}

func (s *MemoryStore) PushHead(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.list(key).EnqueueFront(value)
	return nil
}

func (s *MemoryStore) PopHead(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.list(key).Dequeue()
	return value, ok, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.list(key).Remove(value, 1) > 0, nil
}

// Range follows the LRANGE index conventions.
func (s *MemoryStore) Range(_ context.Context, key string, start int64, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elements := s.list(key).Elements()
	n := int64(len(elements))

	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}

	if n == 0 || start > stop || start >= n {
		return []string{}, nil
	}

	return elements[start : stop+1], nil
}

func (s *MemoryStore) Len(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(s.list(key).Len()), nil
}
