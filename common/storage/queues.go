package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/training-queue/common/types"
)

const (
	WaitQueue     QueueName = "wait"
	RunQueue      QueueName = "run"
	CompleteQueue QueueName = "complete"
	ClosedQueue   QueueName = "closed"
)

var (
	// Queues lists the four queues in lifecycle order.
	Queues = []QueueName{WaitQueue, RunQueue, CompleteQueue, ClosedQueue}

	ErrUnknownQueue = errors.New("unknown queue")
)

// QueueName identifies one of the four task queues.
type QueueName string

func (q QueueName) String() string {
	return string(q)
}

// State returns the TaskState of every task held by the queue.
func (q QueueName) State() types.TaskState {
	switch q {
	case WaitQueue:
		return types.TaskWaiting
	case RunQueue:
		return types.TaskRunning
	case CompleteQueue:
		return types.TaskCompleted
	case ClosedQueue:
		return types.TaskClosed
	default:
		panic(fmt.Sprintf("unknown queue \"%s\"", string(q)))
	}
}

// ParseQueueName converts the given string into a QueueName.
func ParseQueueName(s string) (QueueName, error) {
	for _, q := range Queues {
		if string(q) == s {
			return q, nil
		}
	}

	return "", fmt.Errorf("%w: \"%s\"", ErrUnknownQueue, s)
}

// QueueForState returns the queue that holds tasks in the given state.
func QueueForState(state types.TaskState) QueueName {
	switch state {
	case types.TaskWaiting:
		return WaitQueue
	case types.TaskRunning:
		return RunQueue
	case types.TaskCompleted:
		return CompleteQueue
	case types.TaskClosed:
		return ClosedQueue
	default:
		panic(fmt.Sprintf("unknown task state \"%s\"", string(state)))
	}
}

// defaultKey returns the store key under which the queue has always been kept.
func (q QueueName) defaultKey() string {
	switch q {
	case WaitQueue:
		return "wait_queue"
	case RunQueue:
		return "run_queue"
	case CompleteQueue:
		return "complete_queue"
	case ClosedQueue:
		return "close_queue"
	default:
		panic(fmt.Sprintf("unknown queue \"%s\"", string(q)))
	}
}

// TaskQueues is the typed view of the four task queues held in a ListStore.
//
// TaskQueues caches nothing: every call goes to the store, and every returned Task is a snapshot.
type TaskQueues struct {
	log logger.Logger

	store ListStore
	keys  map[QueueName]string
}

// NewTaskQueues creates a TaskQueues backed by store. If keyPrefix is non-empty, every key is
// prefixed with "<keyPrefix>:".
func NewTaskQueues(store ListStore, keyPrefix string) *TaskQueues {
	q := &TaskQueues{
		store: store,
		keys:  make(map[QueueName]string, len(Queues)),
	}

	for _, name := range Queues {
		key := name.defaultKey()
		if keyPrefix != "" {
			key = keyPrefix + ":" + key
		}
		q.keys[name] = key
	}

	config.InitLogger(&q.log, q)

	return q
}

// Key returns the store key of the given queue.
func (q *TaskQueues) Key(name QueueName) string {
	return q.keys[name]
}

func (q *TaskQueues) key(name QueueName) (string, error) {
	key, ok := q.keys[name]
	if !ok {
		return "", fmt.Errorf("%w: \"%s\"", ErrUnknownQueue, name)
	}

	return key, nil
}

// PushTail appends the task to the tail of the queue.
func (q *TaskQueues) PushTail(ctx context.Context, name QueueName, task *types.Task) error {
	key, err := q.key(name)
	if err != nil {
		return err
	}

	encoded, err := task.Encode()
	if err != nil {
		return err
	}

	return q.store.PushTail(ctx, key, encoded)
}

// PushHead prepends the task to the head of the queue, preserving its stored encoding.
func (q *TaskQueues) PushHead(ctx context.Context, name QueueName, task *types.Task) error {
	key, err := q.key(name)
	if err != nil {
		return err
	}

	encoded, err := task.Raw()
	if err != nil {
		return err
	}

	return q.store.PushHead(ctx, key, encoded)
}

// PopHead removes and returns the task at the head of the queue, or nil if the queue is empty.
//
// A malformed record is pushed back onto the head, byte for byte, before PopHead returns an error
// that wraps types.ErrMalformedRecord and includes the raw record. If it cannot be pushed back,
// the store's error is returned instead.
func (q *TaskQueues) PopHead(ctx context.Context, name QueueName) (*types.Task, error) {
	key, err := q.key(name)
	if err != nil {
		return nil, err
	}

	raw, ok, err := q.store.PopHead(ctx, key)
	if err != nil || !ok {
		return nil, err
	}

	task, err := types.DecodeTask(raw)
	if err != nil {
		q.log.Warn("Popped malformed record from %s queue; restoring it to the head: %s", name, raw)
		if restoreErr := q.store.PushHead(ctx, key, raw); restoreErr != nil {
			q.log.Error("Failed to restore malformed record to the head of the %s queue: %v", name, restoreErr)
			return nil, fmt.Errorf("failed to restore malformed record %s: %w", raw, restoreErr)
		}

		return nil, fmt.Errorf("%w (record %s)", err, raw)
	}

	return task, nil
}

// Remove removes the first element of the queue that is exactly the task's stored record.
// Remove returns false if the record is no longer present.
func (q *TaskQueues) Remove(ctx context.Context, name QueueName, task *types.Task) (bool, error) {
	key, err := q.key(name)
	if err != nil {
		return false, err
	}

	raw, err := task.Raw()
	if err != nil {
		return false, err
	}

	return q.store.Remove(ctx, key, raw)
}

// Head returns the task at the head of the queue without removing it, or nil if the queue is empty.
// A malformed head yields an error that wraps types.ErrMalformedRecord and includes the raw record.
func (q *TaskQueues) Head(ctx context.Context, name QueueName) (*types.Task, error) {
	key, err := q.key(name)
	if err != nil {
		return nil, err
	}

	values, err := q.store.Range(ctx, key, 0, 0)
	if err != nil || len(values) == 0 {
		return nil, err
	}

	task, err := types.DecodeTask(values[0])
	if err != nil {
		return nil, fmt.Errorf("%w (record %s)", err, values[0])
	}

	return task, nil
}

// Range returns a snapshot of the queue's tasks, head first.
//
// Malformed records are skipped. If any were found, the well-formed tasks are returned together with
// an error that wraps types.ErrMalformedRecord once per skipped record.
func (q *TaskQueues) Range(ctx context.Context, name QueueName) ([]*types.Task, error) {
	key, err := q.key(name)
	if err != nil {
		return nil, err
	}

	values, err := q.store.Range(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	}

	var malformed []error
	tasks := make([]*types.Task, 0, len(values))
	for _, raw := range values {
		task, err := types.DecodeTask(raw)
		if err != nil {
			malformed = append(malformed, fmt.Errorf("%w (record %s)", err, raw))
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, errors.Join(malformed...)
}

// Len returns the number of records in the queue, including malformed ones.
func (q *TaskQueues) Len(ctx context.Context, name QueueName) (int64, error) {
	key, err := q.key(name)
	if err != nil {
		return 0, err
	}

	return q.store.Len(ctx, key)
}

// Find returns the first task of the queue with the given ID, or nil if there is none.
func (q *TaskQueues) Find(ctx context.Context, name QueueName, taskId string) (*types.Task, error) {
	tasks, err := q.Range(ctx, name)
	if err != nil && !errors.Is(err, types.ErrMalformedRecord) {
		return nil, err
	}

	for _, task := range tasks {
		if task.TaskID == taskId {
			return task, nil
		}
	}

	return nil, nil
}

// Position returns the zero-based position of the task with the given ID within the queue,
// or -1 if it is not present. Malformed records count towards positions.
func (q *TaskQueues) Position(ctx context.Context, name QueueName, taskId string) (int, error) {
	key, err := q.key(name)
	if err != nil {
		return -1, err
	}

	values, err := q.store.Range(ctx, key, 0, -1)
	if err != nil {
		return -1, err
	}

	for i, raw := range values {
		task, err := types.DecodeTask(raw)
		if err == nil && task.TaskID == taskId {
			return i, nil
		}
	}

	return -1, nil
}
