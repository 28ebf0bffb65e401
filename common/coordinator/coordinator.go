package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"

	"github.com/scusemua/training-queue/common/device"
	"github.com/scusemua/training-queue/common/process"
	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
	"github.com/scusemua/training-queue/common/utils"
)

const (
	// taskIdSeparator separates the components of a task ID.
	taskIdSeparator = "*"

	editingTip = "Tip: queued tasks can be adjusted with queuectl or the store's own client. " +
		"Only changing \"state\" and deleting whole tasks are supported; other edits may break the queue."
)

// Options configure a Coordinator.
type Options struct {
	// MinFreeMemory is the free memory, in bytes, that every visible device must have before a task is admitted.
	MinFreeMemory uint64

	// LegacyTaskIDs selects the "<pid>*<unix seconds>" task ID format, which can collide when one process
	// registers twice within a second. By default a random suffix is appended.
	LegacyTaskIDs bool

	// Self identifies the calling process. Defaults to process.CurrentProcess().
	Self *process.Self

	// Notices receives human-readable progress notices. Defaults to os.Stdout; use io.Discard to silence them.
	Notices io.Writer

	// Metrics receives transition and queue-depth observations. Optional.
	Metrics MetricsReporter

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Coordinator implements the admission and transition protocol for one job process.
//
// The queues in the shared store are the only state. A Coordinator never caches queue contents
// across calls, and it only ever moves its own task between queues. The one exception is
// Reconcile, which removes records whose owning process is dead.
type Coordinator struct {
	log logger.Logger

	queues   *storage.TaskQueues
	prober   device.ResourceProber
	liveness process.LivenessChecker
	notifier *Notifier
	metrics  MetricsReporter

	self          process.Self
	minFreeMemory uint64
	legacyTaskIDs bool
	now           func() time.Time

	taskId string
}

// NewCoordinator creates a Coordinator. No task is registered until Register is called.
func NewCoordinator(queues *storage.TaskQueues, prober device.ResourceProber, liveness process.LivenessChecker, opts Options) *Coordinator {
	c := &Coordinator{
		queues:        queues,
		prober:        prober,
		liveness:      liveness,
		metrics:       opts.Metrics,
		minFreeMemory: opts.MinFreeMemory,
		legacyTaskIDs: opts.LegacyTaskIDs,
		now:           opts.Clock,
	}

	if opts.Self != nil {
		c.self = *opts.Self
	} else {
		c.self = process.CurrentProcess()
	}

	if opts.Notices == nil {
		opts.Notices = os.Stdout
	}
	c.notifier = NewNotifier(opts.Notices)

	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}

	if c.now == nil {
		c.now = time.Now
	}

	config.InitLogger(&c.log, c)

	return c
}

// TaskID returns the ID of the registered task, or the empty string if Register has not been called.
func (c *Coordinator) TaskID() string {
	return c.taskId
}

// Self returns the identity of the process the Coordinator acts for.
func (c *Coordinator) Self() process.Self {
	return c.self
}

// NewTaskID builds a task ID from the owning pid and the registration instant.
// Unless legacy is set, a random suffix makes the ID unique even for repeated same-second registrations.
func NewTaskID(pid int32, at time.Time, legacy bool) string {
	id := fmt.Sprintf("%d%s%d", pid, taskIdSeparator, at.Unix())
	if legacy {
		return id
	}

	return id + taskIdSeparator + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Register creates the caller's task and appends it to the tail of the wait queue.
func (c *Coordinator) Register(ctx context.Context) (string, error) {
	if c.taskId != "" {
		return c.taskId, fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.taskId)
	}

	now := c.now()
	task := types.NewTask(NewTaskID(c.self.PID, now, c.legacyTaskIDs), c.self.PID, c.self.Hostname, now)

	ahead, err := c.queues.Len(ctx, storage.WaitQueue)
	if err != nil {
		return "", err
	}

	if err = c.queues.PushTail(ctx, storage.WaitQueue, task); err != nil {
		c.log.Error("Failed to add task %s to the wait queue: %v", task.TaskID, err)
		return "", err
	}

	c.taskId = task.TaskID
	c.metrics.TaskRegistered()
	c.log.Debug("Registered %v.", task)

	if ahead == 0 {
		c.notifier.Notify(NoticeSuccess, "Task %s joined the wait queue and is first in line; training can start shortly.", c.taskId)
	} else {
		c.notifier.Notify(NoticeInfo, "Task %s joined the wait queue; %d training task(s) ahead.", c.taskId, ahead)
	}
	c.notifier.Tip(editingTip)

	return c.taskId, nil
}

// IsHead returns true if the caller's task is at the head of the wait queue.
// An empty wait queue, or one headed by a malformed record, is not an error; it is simply not the caller's turn.
func (c *Coordinator) IsHead(ctx context.Context) (bool, error) {
	if c.taskId == "" {
		return false, ErrNotRegistered
	}

	head, err := c.queues.Head(ctx, storage.WaitQueue)
	if errors.Is(err, types.ErrMalformedRecord) {
		c.log.Warn("Head of the wait queue is malformed: %v", err)
		c.notifier.Notify(NoticeWarning, "The head of the wait queue cannot be read and blocks every waiting task "+
			"until it is fixed or removed with the store's client: %v", err)
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return head != nil && head.TaskID == c.taskId, nil
}

// TryAdmit moves the caller's task from the head of the wait queue to the run queue if, and only if,
// every visible device has at least the configured amount of free memory.
//
// TryAdmit returns false with a nil error whenever the task must keep waiting: it is not at the head,
// the wait queue is empty, or the devices are insufficient. The wait queue is only modified on success.
func (c *Coordinator) TryAdmit(ctx context.Context) (bool, error) {
	isHead, err := c.IsHead(ctx)
	if err != nil {
		return false, err
	}

	if !isHead {
		c.notifyPosition(ctx)
		c.metrics.AdmissionDeferred(DeferredQueued)
		return false, nil
	}

	visible, err := c.prober.VisibleDevices()
	if err != nil {
		return false, fmt.Errorf("failed to list visible devices: %w", err)
	}

	if len(visible) == 0 {
		c.notifier.Notify(NoticeWaiting, "Task %s is first in line but no GPUs are visible; still waiting.", c.taskId)
		c.metrics.AdmissionDeferred(DeferredNoDevices)
		return false, nil
	}

	available, err := c.prober.Probe(visible, c.minFreeMemory)
	if err != nil {
		return false, fmt.Errorf("failed to probe devices: %w", err)
	}

	// All or nothing: a subset cannot be used exclusively while the other devices are contended.
	if len(available) != len(visible) {
		c.notifier.Notify(NoticeWaiting, "Task %s is first in line but must keep waiting: only %d of %d visible GPU(s) have %s free.",
			c.taskId, len(available), len(visible), utils.FormatMemorySize(c.minFreeMemory))
		c.metrics.AdmissionDeferred(DeferredInsufficientMemory)
		return false, nil
	}

	popped, err := c.queues.PopHead(ctx, storage.WaitQueue)
	if errors.Is(err, types.ErrMalformedRecord) {
		// PopHead has already restored it to the head.
		c.log.Warn("Popped a malformed record instead of task %s: %v", c.taskId, err)
		c.metrics.AdmissionDeferred(DeferredLostRace)
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if popped == nil {
		c.log.Warn("Wait queue was drained before task %s could be admitted.", c.taskId)
		c.metrics.AdmissionDeferred(DeferredLostRace)
		return false, nil
	}

	if popped.TaskID != c.taskId {
		// Only possible if the queue was edited by hand between the head check and the pop.
		c.log.Warn("Popped task %s instead of %s; restoring it to the head of the wait queue.", popped.TaskID, c.taskId)
		if err = c.queues.PushHead(ctx, storage.WaitQueue, popped); err != nil {
			c.log.Error("Failed to restore task %s to the head of the wait queue: %v", popped.TaskID, err)
			return false, err
		}

		c.metrics.AdmissionDeferred(DeferredLostRace)
		return false, nil
	}

	running := popped.Admitted(available, c.now())
	if err = c.queues.PushTail(ctx, storage.RunQueue, running); err != nil {
		c.log.Error("Failed to add task %s to the run queue: %v", c.taskId, err)
		if restoreErr := c.queues.PushHead(ctx, storage.WaitQueue, popped); restoreErr != nil {
			c.log.Error("Failed to restore task %s to the head of the wait queue: %v", c.taskId, restoreErr)
		}
		return false, err
	}

	c.metrics.TaskAdmitted()
	c.notifier.Notify(NoticeSuccess, "Task %s moved to the run queue on GPU(s) [%s].", c.taskId, running.GPUString())

	return true, nil
}

// notifyPosition tells the user how many tasks are ahead of theirs.
func (c *Coordinator) notifyPosition(ctx context.Context) {
	position, err := c.queues.Position(ctx, storage.WaitQueue, c.taskId)
	if err != nil {
		c.log.Warn("Could not determine the position of task %s: %v", c.taskId, err)
		return
	}

	if position < 0 {
		c.notifier.Notify(NoticeWarning, "Task %s is not in the wait queue.", c.taskId)
		return
	}

	c.notifier.Notify(NoticeWaiting, "Task %s is still waiting: %d training task(s) ahead.", c.taskId, position)
}

// IsAdmitted returns true if the caller's task is in the run queue.
func (c *Coordinator) IsAdmitted(ctx context.Context) (bool, error) {
	task, err := c.runningTask(ctx)
	return task != nil, err
}

// Task returns the caller's task as currently stored in the run queue, or nil if it is not running.
func (c *Coordinator) Task(ctx context.Context) (*types.Task, error) {
	return c.runningTask(ctx)
}

func (c *Coordinator) runningTask(ctx context.Context) (*types.Task, error) {
	if c.taskId == "" {
		return nil, ErrNotRegistered
	}

	return c.queues.Find(ctx, storage.RunQueue, c.taskId)
}

// Finish moves the caller's task out of the run queue: to the tail of the complete queue on success,
// or back to the tail of the wait queue, behind every current waiter, on failure.
//
// Finish returns false if the task was not in the run queue, for example because it was reconciled.
func (c *Coordinator) Finish(ctx context.Context, success bool) (bool, error) {
	task, err := c.runningTask(ctx)
	if err != nil {
		return false, err
	}

	if task == nil {
		c.log.Warn("Task %s is not in the run queue; nothing to finish.", c.taskId)
		return false, nil
	}

	removed, err := c.queues.Remove(ctx, storage.RunQueue, task)
	if err != nil {
		return false, err
	}

	if !removed {
		c.log.Warn("Task %s left the run queue before it could be finished.", c.taskId)
		return false, nil
	}

	if success {
		if err = c.queues.PushTail(ctx, storage.CompleteQueue, task.Completed(c.now())); err != nil {
			c.log.Error("Failed to add task %s to the complete queue: %v", c.taskId, err)
			return false, err
		}

		c.metrics.TaskCompleted()
		c.notifier.Notify(NoticeSuccess, "Task %s finished training.", c.taskId)
		return true, nil
	}

	if err = c.queues.PushTail(ctx, storage.WaitQueue, task.Requeued()); err != nil {
		c.log.Error("Failed to return task %s to the wait queue: %v", c.taskId, err)
		return false, err
	}

	c.metrics.TaskRequeued()
	c.notifier.Notify(NoticeWarning, "Task %s failed and was moved to the back of the wait queue to retry later.", c.taskId)
	return true, nil
}

// Withdraw removes the caller's task from the wait and run queues, if present.
// It is used when a job shuts down cleanly without finishing.
func (c *Coordinator) Withdraw(ctx context.Context) error {
	if c.taskId == "" {
		return nil
	}

	var errs []error
	for _, name := range []storage.QueueName{storage.WaitQueue, storage.RunQueue} {
		task, err := c.queues.Find(ctx, name, c.taskId)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if task == nil {
			continue
		}

		if _, err = c.queues.Remove(ctx, name, task); err != nil {
			errs = append(errs, err)
			continue
		}

		c.log.Debug("Withdrew task %s from the %s queue.", c.taskId, name)
	}

	return errors.Join(errs...)
}
