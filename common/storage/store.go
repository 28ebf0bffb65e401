package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

const (
	Connected    ConnectionStatus = "CONNECTED"
	Connecting   ConnectionStatus = "CONNECTING"
	Disconnected ConnectionStatus = "DISCONNECTED"
)

var (
	ErrStoreUnavailable = errors.New("queue store is unavailable")
	ErrNotConnected     = errors.New("queue store is not connected")
)

// ConnectionStatus indicates the status of the connection with the shared store.
type ConnectionStatus string

// ListStore is a shared store of named, ordered lists of strings, such as Redis.
//
// Each individual operation is atomic with respect to other operations on the same list.
// A read followed by a write is not atomic; callers must tolerate the list changing in between.
type ListStore interface {
	// Connect establishes (and verifies) the connection with the store.
	Connect(ctx context.Context) error

	Close() error

	// ConnectionStatus returns the current ConnectionStatus of the ListStore.
	ConnectionStatus() ConnectionStatus

	// PushTail appends value to the tail of the list.
	PushTail(ctx context.Context, key string, value string) error

	// PushHead prepends value to the head of the list.
	PushHead(ctx context.Context, key string, value string) error

	// PopHead removes and returns the head of the list. The bool is false if the list was empty.
	PopHead(ctx context.Context, key string) (string, bool, error)

	// Remove removes the first element equal to value, searching from the head.
	// Remove returns false, and no error, if no such element exists.
	Remove(ctx context.Context, key string, value string) (bool, error)

	// Range returns a snapshot of the elements between start and stop, inclusive.
	// Negative indices count from the tail, so Range(ctx, key, 0, -1) returns the whole list.
	Range(ctx context.Context, key string, start int64, stop int64) ([]string, error)

	// Len returns the number of elements in the list.
	Len(ctx context.Context, key string) (int64, error)
}

type baseStore struct {
	logger *zap.Logger

	status ConnectionStatus
}

func newBaseStore(atom *zap.AtomicLevel) *baseStore {
	store := &baseStore{
		status: Disconnected,
	}

	cfg := zap.NewDevelopmentConfig()
	if atom != nil {
		cfg.Level = *atom
	}

	logger, err := cfg.Build()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[ERROR] Failed to create Zap Development logger because: %v\n", err)
		logger = zap.NewNop()
	}

	store.logger = logger

	return store
}

// ConnectionStatus returns the current ConnectionStatus of the store.
func (s *baseStore) ConnectionStatus() ConnectionStatus {
	return s.status
}
