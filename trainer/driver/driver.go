package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/training-queue/common/types"
	"github.com/scusemua/training-queue/trainer/domain"
)

const (
	// withdrawTimeout bounds the cleanup performed after the driver's context has been cancelled.
	withdrawTimeout = time.Second * 10
)

var (
	ErrMaxAttemptsExceeded = errors.New("the maximum number of training attempts was exceeded")

	// ErrTaskLost indicates that the driver's task disappeared from the queues while it was running,
	// for example because an operator deleted it.
	ErrTaskLost = errors.New("the task is no longer in the run queue")
)

// TaskCoordinator is the part of the coordinator.Coordinator API that the driver uses.
type TaskCoordinator interface {
	TaskID() string
	Register(ctx context.Context) (string, error)
	Reconcile(ctx context.Context) ([]*types.Task, error)
	TryAdmit(ctx context.Context) (bool, error)
	Task(ctx context.Context) (*types.Task, error)
	Finish(ctx context.Context, success bool) (bool, error)
	Withdraw(ctx context.Context) error
}

type Options struct {
	// RetryInterval is how long to wait between admission attempts, and after a requeued run.
	RetryInterval time.Duration

	FailurePolicy domain.FailurePolicy

	// MaxAttempts bounds the number of admitted runs. Zero means unlimited.
	MaxAttempts int

	// IsTransient reports whether a failed run should be requeued regardless of FailurePolicy.
	// Defaults to TransientClassifier(nil).
	IsTransient func(error) bool
}

// Driver is the polling loop that moves one training job through the queues.
type Driver struct {
	log logger.Logger

	coordinator TaskCoordinator
	opts        Options
	attempts    int
}

func NewDriver(coordinator TaskCoordinator, opts Options) *Driver {
	if opts.IsTransient == nil {
		opts.IsTransient = TransientClassifier(nil)
	}

	if opts.FailurePolicy == "" {
		opts.FailurePolicy = domain.DefaultFailurePolicy
	}

	d := &Driver{
		coordinator: coordinator,
		opts:        opts,
	}
	config.InitLogger(&d.log, d)

	return d
}

// Attempts returns the number of admitted runs so far.
func (d *Driver) Attempts() int {
	return d.attempts
}

// Run registers a task, waits for its admission, and runs work until it succeeds or the driver gives up.
//
// If ctx is cancelled, Run withdraws the task from the queues and returns the context's error.
// If a run fails and the failure policy is to abort, the task is left in the run queue to be reconciled
// once this process exits.
func (d *Driver) Run(ctx context.Context, work Work) error {
	d.reconcile(ctx)

	taskId, err := d.coordinator.Register(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register the task")
	}

	d.log.Info("Registered task %s.", taskId)

	for {
		if ctx.Err() != nil {
			return d.abandon(ctx.Err())
		}

		d.reconcile(ctx)

		admitted, err := d.coordinator.TryAdmit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return d.abandon(ctx.Err())
			}
			return errors.Wrapf(err, "admission of task %s failed", taskId)
		}

		if !admitted {
			if err = d.sleep(ctx); err != nil {
				return d.abandon(err)
			}
			continue
		}

		task, err := d.coordinator.Task(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to read task %s from the run queue", taskId)
		}

		if task == nil {
			d.log.Error("Task %s was admitted but is not in the run queue.", taskId)
			return fmt.Errorf("%w: %s", ErrTaskLost, taskId)
		}

		d.attempts++
		d.log.Info("Starting attempt %d of task %s on GPU(s) [%s].", d.attempts, taskId, task.GPUString())

		done, err := d.runOnce(ctx, work, task)
		if done || err != nil {
			return err
		}

		if err = d.sleep(ctx); err != nil {
			return d.abandon(err)
		}
	}
}

// runOnce runs work once and records its outcome. It returns true when the driver should stop.
func (d *Driver) runOnce(ctx context.Context, work Work, task *types.Task) (bool, error) {
	runErr := work(ctx, task)

	if runErr == nil {
		finished, err := d.coordinator.Finish(ctx, true)
		if err != nil {
			return true, errors.Wrapf(err, "task %s succeeded but could not be marked completed", task.TaskID)
		}

		if !finished {
			d.log.Warn("Task %s succeeded but was no longer in the run queue.", task.TaskID)
		}

		return true, nil
	}

	if ctx.Err() != nil {
		return true, d.abandon(ctx.Err())
	}

	transient := d.opts.IsTransient(runErr)
	if !transient && d.opts.FailurePolicy == domain.FailureAbort {
		d.log.Error("Attempt %d of task %s failed: %v", d.attempts, task.TaskID, runErr)
		return true, runErr
	}

	if d.opts.MaxAttempts > 0 && d.attempts >= d.opts.MaxAttempts {
		d.log.Error("Attempt %d of task %s failed and no attempts remain: %v", d.attempts, task.TaskID, runErr)
		if err := d.coordinator.Withdraw(ctx); err != nil {
			d.log.Warn("Failed to withdraw task %s: %v", task.TaskID, err)
		}
		return true, fmt.Errorf("%w (%d): %v", ErrMaxAttemptsExceeded, d.attempts, runErr)
	}

	d.log.Warn("Attempt %d of task %s failed (transient: %v); requeueing: %v", d.attempts, task.TaskID, transient, runErr)

	finished, err := d.coordinator.Finish(ctx, false)
	if err != nil {
		return true, errors.Wrapf(err, "failed to requeue task %s", task.TaskID)
	}

	if !finished {
		return true, fmt.Errorf("%w: %s", ErrTaskLost, task.TaskID)
	}

	return false, nil
}

// reconcile runs a reconciliation pass. Reconciliation is advisory, so failures are only logged.
func (d *Driver) reconcile(ctx context.Context) {
	reclaimed, err := d.coordinator.Reconcile(ctx)
	if err != nil {
		d.log.Warn("Reconciliation failed: %v", err)
		return
	}

	if len(reclaimed) > 0 {
		d.log.Debug("Reconciliation removed %d stale task(s).", len(reclaimed))
	}
}

func (d *Driver) sleep(ctx context.Context) error {
	timer := time.NewTimer(d.opts.RetryInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// abandon withdraws the task after the driver's context has been cancelled and returns cause.
func (d *Driver) abandon(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
	defer cancel()

	d.log.Warn("Stopping: %v. Withdrawing task %s.", cause, d.coordinator.TaskID())
	if err := d.coordinator.Withdraw(ctx); err != nil {
		d.log.Error("Failed to withdraw task %s: %v", d.coordinator.TaskID(), err)
	}

	return cause
}
