package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scusemua/training-queue/common/coordinator"
	"github.com/scusemua/training-queue/common/device"
	"github.com/scusemua/training-queue/common/process"
	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/types"
	"github.com/scusemua/training-queue/common/utils"
)

const (
	usage = `Usage: queuectl [options] <command> [arguments]

Commands:
  list [queue...]              Print the tasks of the given queues (wait, run, complete, closed), or of all queues.
  set-state <task_id> <state>  Move a task to the queue of the given state (waiting, completed or closed).
  close <task_id>              Mark a task as closed.
  delete <task_id>             Remove a task from whichever queue holds it.
  reconcile                    Remove the wait and run queue tasks of processes that no longer exist on this host.
`
)

var (
	ErrUsage = errors.New("invalid usage")

	options      = QueuectlOptions{}
	globalLogger = config.GetLogger("")
)

type QueuectlOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`
	storage.QueueOptions `yaml:",inline" json:"queue_options"`
}

func (o *QueuectlOptions) Validate() error {
	o.QueueOptions.ValidateQueueOptions()
	return nil
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() *flag.FlagSet {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		fmt.Print(usage)
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	return flags
}

func main() {
	flags := ValidateOptions()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	atom := zap.NewAtomicLevelAt(zap.WarnLevel)
	store := storage.NewRedisStore(options.RedisOptions, &atom)
	if err := store.Connect(ctx); err != nil {
		log.Fatalf("Cannot reach the queue store at %s: %v", options.Addr(), err)
	}

	err := runCommand(ctx, storage.NewTaskQueues(store, options.KeyPrefix), os.Stdout, flags.Args())
	_ = store.Close()

	if errors.Is(err, ErrUsage) {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		os.Exit(2)
	} else if err != nil {
		globalLogger.Error("%v", err)
		os.Exit(1)
	}
}

// runCommand runs one queuectl command against the given queues, writing its output to out.
func runCommand(ctx context.Context, queues *storage.TaskQueues, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.Wrap(ErrUsage, "no command given")
	}

	admin := coordinator.NewAdmin(queues, nil)
	command, args := args[0], args[1:]

	switch command {
	case "list":
		names := make([]storage.QueueName, 0, len(args))
		for _, arg := range args {
			name, err := storage.ParseQueueName(arg)
			if err != nil {
				return errors.Wrap(ErrUsage, err.Error())
			}
			names = append(names, name)
		}

		snapshot, err := admin.List(ctx, names...)
		if snapshot == nil {
			return err
		}

		if len(names) == 0 {
			names = storage.Queues
		}

		renderQueues(out, names, snapshot)
		if err != nil {
			globalLogger.Warn("Some records could not be decoded and were not listed: %v", err)
		}
		return nil
	case "set-state":
		if len(args) != 2 {
			return errors.Wrap(ErrUsage, "set-state takes a task ID and a state")
		}

		state, err := types.ParseTaskState(args[1])
		if err != nil {
			return errors.Wrap(ErrUsage, err.Error())
		}

		task, err := admin.SetState(ctx, args[0], state)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, utils.GreenStyle.Render(fmt.Sprintf("Task %s is now %s.", task.TaskID, task.State)))
		return nil
	case "close":
		if len(args) != 1 {
			return errors.Wrap(ErrUsage, "close takes a task ID")
		}

		task, err := admin.Close(ctx, args[0])
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, utils.GreenStyle.Render(fmt.Sprintf("Task %s is now %s.", task.TaskID, task.State)))
		return nil
	case "delete":
		if len(args) != 1 {
			return errors.Wrap(ErrUsage, "delete takes a task ID")
		}

		task, err := admin.Delete(ctx, args[0])
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, utils.GreenStyle.Render(fmt.Sprintf("Deleted task %s.", task.TaskID)))
		return nil
	case "reconcile":
		coord := coordinator.NewCoordinator(queues, device.NewNvmlProber(), process.NewProcessTableChecker(), coordinator.Options{
			Notices: out,
		})

		reclaimed, err := coord.Reconcile(ctx)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "Removed %d stale task(s).\n", len(reclaimed))
		return nil
	default:
		return errors.Wrapf(ErrUsage, "unknown command \"%s\"", command)
	}
}
