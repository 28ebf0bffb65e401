package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/utils"
)

const (
	DefaultMinFreeMemory    = "20GiB"
	DefaultRetryInterval    = 60
	DefaultFailurePolicy    = FailureAbort
	DefaultTransientPattern = "CUDA out of memory"

	// FailureAbort leaves the task of a failed run in the run queue for reconciliation and stops.
	FailureAbort FailurePolicy = "abort"

	// FailureRequeue returns the task of a failed run to the tail of the wait queue and keeps going.
	FailureRequeue FailurePolicy = "requeue"
)

// FailurePolicy determines what the trainer does when a run fails with an error that is not transient.
type FailurePolicy string

type TrainerOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`
	storage.QueueOptions `yaml:",inline" json:"queue_options"`

	MinFreeMemory      string `name:"min_free_memory" description:"Free memory every visible GPU must have before a task is admitted, e.g. \"20GiB\"." yaml:"min_free_memory" json:"min_free_memory"`
	RetryInterval      int    `name:"retry_interval" description:"Seconds to wait between admission attempts and after a requeued run." yaml:"retry_interval" json:"retry_interval"`
	FailurePolicy      string `name:"failure_policy" description:"What to do when a run fails with a non-transient error: \"abort\" or \"requeue\"." yaml:"failure_policy" json:"failure_policy"`
	MaxAttempts        int    `name:"max_attempts" description:"Maximum number of admitted runs before giving up. 0 means unlimited." yaml:"max_attempts" json:"max_attempts"`
	TransientPattern   string `name:"transient_pattern" description:"Regular expression matched against the output of a failed run to recognise transient resource exhaustion." yaml:"transient_pattern" json:"transient_pattern"`
	PrometheusPort     int    `name:"prometheus_port" description:"Port on which to serve Prometheus metrics. 0 disables the endpoint." yaml:"prometheus_port" json:"prometheus_port"`
	LegacyTaskIDs      bool   `name:"legacy_task_ids" description:"Generate task IDs in the \"<pid>*<unix seconds>\" format without a random suffix." yaml:"legacy_task_ids" json:"legacy_task_ids"`
	Quiet              bool   `name:"quiet" description:"Do not print queue notices." yaml:"quiet" json:"quiet"`
	PrettyPrintOptions bool   `name:"pretty_print_options" description:"Print the options as indented JSON at startup." yaml:"pretty_print_options" json:"pretty_print_options"`

	minFreeMemoryBytes uint64
	transientRegexp    *regexp.Regexp
}

// Validate fills in defaults for unset options and parses the options that need parsing.
func (o *TrainerOptions) Validate() error {
	o.QueueOptions.ValidateQueueOptions()

	if o.MinFreeMemory == "" {
		fmt.Printf("[WARNING] \"min_free_memory\" configuration is not set. Using default value: \"%s\".\n", DefaultMinFreeMemory)
		o.MinFreeMemory = DefaultMinFreeMemory
	}

	size, err := utils.ParseMemorySize(o.MinFreeMemory)
	if err != nil {
		return fmt.Errorf("%w: \"min_free_memory\" value \"%s\": %v", ErrInvalidOption, o.MinFreeMemory, err)
	}
	o.minFreeMemoryBytes = size

	if o.RetryInterval <= 0 {
		fmt.Printf("[WARNING] \"retry_interval\" configuration is not set. Using default value: %d seconds.\n", DefaultRetryInterval)
		o.RetryInterval = DefaultRetryInterval
	}

	switch FailurePolicy(strings.ToLower(o.FailurePolicy)) {
	case "":
		fmt.Printf("[WARNING] \"failure_policy\" configuration is not set. Using default value: \"%s\".\n", DefaultFailurePolicy)
		o.FailurePolicy = string(DefaultFailurePolicy)
	case FailureAbort, FailureRequeue:
		o.FailurePolicy = strings.ToLower(o.FailurePolicy)
	default:
		return fmt.Errorf("%w: unknown \"failure_policy\" \"%s\"", ErrInvalidOption, o.FailurePolicy)
	}

	if o.MaxAttempts < 0 {
		return fmt.Errorf("%w: negative \"max_attempts\" %d", ErrInvalidOption, o.MaxAttempts)
	}

	if o.TransientPattern == "" {
		o.TransientPattern = DefaultTransientPattern
	}

	if o.transientRegexp, err = regexp.Compile(o.TransientPattern); err != nil {
		return fmt.Errorf("%w: \"transient_pattern\": %v", ErrInvalidOption, err)
	}

	return nil
}

// MinFreeMemoryBytes returns the parsed "min_free_memory". Only valid after Validate.
func (o *TrainerOptions) MinFreeMemoryBytes() uint64 {
	return o.minFreeMemoryBytes
}

func (o *TrainerOptions) RetryIntervalDuration() time.Duration {
	return time.Duration(o.RetryInterval) * time.Second
}

func (o *TrainerOptions) Policy() FailurePolicy {
	return FailurePolicy(o.FailurePolicy)
}

// TransientRegexp returns the compiled "transient_pattern". Only valid after Validate.
func (o *TrainerOptions) TransientRegexp() *regexp.Regexp {
	return o.transientRegexp
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *TrainerOptions) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(o, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *TrainerOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}
