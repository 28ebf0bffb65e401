package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/training-queue/common/types"
)

const (
	// TaskIDEnv names the environment variable through which a training command learns its task ID.
	TaskIDEnv = "TRAINING_QUEUE_TASK_ID"

	// GPUsEnv names the environment variable that holds the comma-separated indices of the assigned GPUs.
	GPUsEnv = "TRAINING_QUEUE_GPUS"

	// outputTailSize is how much of a command's most recent output is kept for classifying its failure.
	outputTailSize = 64 * 1024
)

var (
	// ErrResourceExhausted indicates that a training run failed because the devices ran out of resources.
	// Such failures are transient: the task is requeued rather than abandoned.
	ErrResourceExhausted = errors.New("training run exhausted the device resources")
)

// Work is the training procedure run once a task has been admitted. The task is a snapshot of the running record.
type Work func(ctx context.Context, task *types.Task) error

// TransientClassifier returns a function reporting whether a failed run should be retried.
// A failure is transient if it wraps ErrResourceExhausted or, when pattern is non-nil, its message matches pattern.
func TransientClassifier(pattern *regexp.Regexp) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}

		if errors.Is(err, ErrResourceExhausted) {
			return true
		}

		return pattern != nil && pattern.MatchString(err.Error())
	}
}

// CommandWork runs a training command as a child process.
type CommandWork struct {
	log logger.Logger

	name string
	args []string

	stdout io.Writer
	stderr io.Writer

	// transient is matched against the tail of the command's output when it fails.
	transient *regexp.Regexp
}

// NewCommandWork creates a CommandWork that runs name with args, copying the command's output to stdout and stderr.
// If the command fails and the tail of its output matches transient, the failure wraps ErrResourceExhausted.
func NewCommandWork(name string, args []string, stdout io.Writer, stderr io.Writer, transient *regexp.Regexp) *CommandWork {
	if stdout == nil {
		stdout = os.Stdout
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	w := &CommandWork{
		name:      name,
		args:      args,
		stdout:    stdout,
		stderr:    stderr,
		transient: transient,
	}
	config.InitLogger(&w.log, w)

	return w
}

// Run runs the command to completion. It satisfies Work.
func (w *CommandWork) Run(ctx context.Context, task *types.Task) error {
	tail := newTailBuffer(outputTailSize)

	cmd := exec.CommandContext(ctx, w.name, w.args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", TaskIDEnv, task.TaskID),
		fmt.Sprintf("%s=%s", GPUsEnv, task.GPUString()))
	cmd.Stdout = io.MultiWriter(w.stdout, tail)
	cmd.Stderr = io.MultiWriter(w.stderr, tail)

	w.log.Debug("Running training command %s %v for task %s on GPU(s) [%s].", w.name, w.args, task.TaskID, task.GPUString())

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if w.transient != nil && w.transient.Match(tail.Bytes()) {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	return errors.Wrapf(err, "training command \"%s\" failed", w.name)
}

// tailBuffer keeps the last few bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(p)
	if excess := b.buf.Len() - b.size; excess > 0 {
		b.buf.Next(excess)
	}

	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]byte{}, b.buf.Bytes()...)
}
