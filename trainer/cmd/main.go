package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scusemua/training-queue/common/coordinator"
	"github.com/scusemua/training-queue/common/device"
	"github.com/scusemua/training-queue/common/metrics"
	"github.com/scusemua/training-queue/common/process"
	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/trainer/domain"
	"github.com/scusemua/training-queue/trainer/driver"
)

const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

var (
	options      = domain.TrainerOptions{}
	globalLogger = config.GetLogger("")
)

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() *flag.FlagSet {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	return flags
}

func main() {
	flags := ValidateOptions()
	os.Exit(run(flags.Args()))
}

func run(command []string) int {
	if len(command) == 0 {
		globalLogger.Error("No training command given. Usage: trainer [options] -- <command> [args...]")
		return exitUsage
	}

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting the trainer with the following options:\n%s\n", options.PrettyString(2))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	atom := zap.NewAtomicLevelAt(zap.WarnLevel)
	if options.Debug {
		atom.SetLevel(zap.DebugLevel)
	}

	store := storage.NewRedisStore(options.RedisOptions, &atom)
	if err := store.Connect(ctx); err != nil {
		globalLogger.Error("Cannot reach the queue store at %s: %v", options.Addr(), err)
		return exitFailure
	}
	defer func() {
		if err := store.Close(); err != nil {
			globalLogger.Warn("Failed to close the connection to the queue store: %v", err)
		}
	}()

	opts := coordinator.Options{
		MinFreeMemory: options.MinFreeMemoryBytes(),
		LegacyTaskIDs: options.LegacyTaskIDs,
	}

	if options.Quiet {
		opts.Notices = io.Discard
	}

	if options.PrometheusPort > 0 {
		manager, err := metrics.NewQueueMetricsManager(options.PrometheusPort, nil)
		if err != nil {
			globalLogger.Error("Failed to create the metrics manager: %v", err)
			return exitFailure
		}

		if err = manager.Start(); err != nil {
			globalLogger.Error("Failed to serve metrics: %v", err)
			return exitFailure
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			_ = manager.Stop(stopCtx)
		}()

		opts.Metrics = manager
	}

	queues := storage.NewTaskQueues(store, options.KeyPrefix)
	coord := coordinator.NewCoordinator(queues, device.NewNvmlProber(), process.NewProcessTableChecker(), opts)

	work := driver.NewCommandWork(command[0], command[1:], os.Stdout, os.Stderr, options.TransientRegexp())
	d := driver.NewDriver(coord, driver.Options{
		RetryInterval: options.RetryIntervalDuration(),
		FailurePolicy: options.Policy(),
		MaxAttempts:   options.MaxAttempts,
		IsTransient:   driver.TransientClassifier(options.TransientRegexp()),
	})

	err := d.Run(ctx, work.Run)
	if err == nil {
		globalLogger.Info("Task %s completed after %d attempt(s).", coord.TaskID(), d.Attempts())
		return 0
	}

	if errors.Is(err, context.Canceled) {
		globalLogger.Warn("Interrupted; task %s was withdrawn.", coord.TaskID())
		return exitInterrupted
	}

	globalLogger.Error("Task %s failed: %v", coord.TaskID(), err)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}

	return exitFailure
}
