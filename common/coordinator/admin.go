package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
)

// Admin implements the manual edits an operator may make to the queues: changing the state of a task
// and deleting a task. Every edit moves the record to the queue that matches its new state.
type Admin struct {
	log logger.Logger

	queues *storage.TaskQueues
	now    func() time.Time
}

func NewAdmin(queues *storage.TaskQueues, clock func() time.Time) *Admin {
	if clock == nil {
		clock = time.Now
	}

	admin := &Admin{
		queues: queues,
		now:    clock,
	}

	config.InitLogger(&admin.log, admin)

	return admin
}

// List returns a snapshot of each of the given queues, or of all four queues if none are given.
//
// The returned error wraps types.ErrMalformedRecord if malformed records were skipped; the snapshots are still returned.
func (a *Admin) List(ctx context.Context, names ...storage.QueueName) (map[storage.QueueName][]*types.Task, error) {
	if len(names) == 0 {
		names = storage.Queues
	}

	var malformed error
	snapshot := make(map[storage.QueueName][]*types.Task, len(names))
	for _, name := range names {
		tasks, err := a.queues.Range(ctx, name)
		if err != nil && tasks == nil {
			return nil, err
		}

		if err != nil {
			malformed = err
		}
		snapshot[name] = tasks
	}

	return snapshot, malformed
}

// Locate returns the task with the given ID and the queue that holds it.
func (a *Admin) Locate(ctx context.Context, taskId string) (*types.Task, storage.QueueName, error) {
	for _, name := range storage.Queues {
		task, err := a.queues.Find(ctx, name, taskId)
		if err != nil {
			return nil, "", err
		}

		if task != nil {
			return task, name, nil
		}
	}

	return nil, "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskId)
}

// SetState moves the task with the given ID to the queue that matches the given state.
//
// Only the owning process may admit its task, so moving a task to running returns ErrInvalidTransition.
// Setting a task's current state again is a no-op.
func (a *Admin) SetState(ctx context.Context, taskId string, state types.TaskState) (*types.Task, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown state \"%s\"", ErrInvalidTransition, state)
	}

	if state == types.TaskRunning {
		return nil, fmt.Errorf("%w: tasks can only be admitted by their own process", ErrInvalidTransition)
	}

	task, current, err := a.Locate(ctx, taskId)
	if err != nil {
		return nil, err
	}

	if current.State() == state {
		a.log.Debug("Task %s is already %s.", taskId, state)
		return task, nil
	}

	var next *types.Task
	switch state {
	case types.TaskWaiting:
		next = task.Requeued()
	case types.TaskCompleted:
		next = task.Completed(a.now())
	case types.TaskClosed:
		next = task.Closed()
	}

	removed, err := a.queues.Remove(ctx, current, task)
	if err != nil {
		return nil, err
	}

	if !removed {
		return nil, fmt.Errorf("%w: task %s left the %s queue during the edit", ErrTaskNotFound, taskId, current)
	}

	target := storage.QueueForState(state)
	if err = a.queues.PushTail(ctx, target, next); err != nil {
		a.log.Error("Removed task %s from the %s queue but failed to add it to the %s queue: %v", taskId, current, target, err)
		return nil, err
	}

	a.log.Info("Moved task %s from the %s queue to the %s queue.", taskId, current, target)
	return next, nil
}

// Close marks the task with the given ID as closed.
func (a *Admin) Close(ctx context.Context, taskId string) (*types.Task, error) {
	return a.SetState(ctx, taskId, types.TaskClosed)
}

// Delete removes the task with the given ID from whichever queue holds it.
func (a *Admin) Delete(ctx context.Context, taskId string) (*types.Task, error) {
	task, current, err := a.Locate(ctx, taskId)
	if err != nil {
		return nil, err
	}

	removed, err := a.queues.Remove(ctx, current, task)
	if err != nil {
		return nil, err
	}

	if !removed {
		return nil, fmt.Errorf("%w: task %s left the %s queue during the edit", ErrTaskNotFound, taskId, current)
	}

	a.log.Info("Deleted task %s from the %s queue.", taskId, current)
	return task, nil
}
