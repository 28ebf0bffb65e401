package coordinator

import (
	"context"
	"errors"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
)

// reconciledQueues are the queues that can hold records of live work.
var reconciledQueues = []storage.QueueName{storage.RunQueue, storage.WaitQueue}

// Reconcile removes the wait and run queue records whose owning process is no longer alive,
// and returns the removed tasks.
//
// Only records owned by this host are judged; the local process table says nothing about other hosts.
// A record is never removed if its liveness cannot be determined. Reconcile is idempotent and may be
// called concurrently by any number of processes.
func (c *Coordinator) Reconcile(ctx context.Context) ([]*types.Task, error) {
	reclaimed := make([]*types.Task, 0)

	for _, name := range reconciledQueues {
		removed, err := c.reconcileQueue(ctx, name)
		reclaimed = append(reclaimed, removed...)
		if err != nil {
			return reclaimed, err
		}
	}

	for _, name := range storage.Queues {
		length, err := c.queues.Len(ctx, name)
		if err != nil {
			c.log.Warn("Failed to read the length of the %s queue: %v", name, err)
			continue
		}
		c.metrics.QueueLength(name, length)
	}

	return reclaimed, nil
}

func (c *Coordinator) reconcileQueue(ctx context.Context, name storage.QueueName) ([]*types.Task, error) {
	tasks, err := c.queues.Range(ctx, name)
	if err != nil {
		if !errors.Is(err, types.ErrMalformedRecord) {
			return nil, err
		}

		// Malformed records are left for an operator to inspect.
		c.log.Warn("Skipping malformed records in the %s queue: %v", name, err)
	}

	reclaimed := make([]*types.Task, 0)
	for _, task := range tasks {
		if task.TaskID == c.taskId || !c.self.IsLocal(task.Hostname) {
			continue
		}

		alive, err := c.liveness.IsAlive(task.SystemPID)
		if err != nil {
			c.log.Warn("Could not determine whether process %d of task %s is alive: %v", task.SystemPID, task.TaskID, err)
			continue
		}

		if alive {
			continue
		}

		removed, err := c.queues.Remove(ctx, name, task)
		if err != nil {
			return reclaimed, err
		}

		// Another process reconciled it first.
		if !removed {
			continue
		}

		c.metrics.TaskReclaimed(name)
		c.notifier.Notify(NoticeWarning, "Removed stale %s queue entry of task %s: process %d no longer exists on this host.",
			name, task.TaskID, task.SystemPID)
		reclaimed = append(reclaimed, task)
	}

	return reclaimed, nil
}
