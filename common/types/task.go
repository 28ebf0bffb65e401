package types

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	TaskWaiting   TaskState = "waiting"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskClosed    TaskState = "closed"

	// TimeLayout is the layout of every timestamp field of a serialized Task.
	TimeLayout = "2006-01-02 15:04:05"
)

var (
	ErrMalformedRecord = errors.New("malformed task record")

	// TaskStates lists every TaskState in lifecycle order.
	TaskStates = []TaskState{TaskWaiting, TaskRunning, TaskCompleted, TaskClosed}
)

// TaskState is the lifecycle state of a Task. The state of a Task always matches the queue that holds it.
type TaskState string

func (s TaskState) String() string {
	return string(s)
}

// IsValid returns true if s is one of the four known states.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskWaiting, TaskRunning, TaskCompleted, TaskClosed:
		return true
	default:
		return false
	}
}

// ParseTaskState converts the given string into a TaskState, returning an error if it is not a known state.
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(strings.ToLower(strings.TrimSpace(s)))
	if !state.IsValid() {
		return "", fmt.Errorf("unknown task state \"%s\"", s)
	}

	return state, nil
}

// Task is the record that represents one training job's position and status within the queues.
//
// Tasks are never edited in place within the store. A transition removes the stored record and
// inserts a modified copy, so the mutating methods of Task return a new Task and leave the receiver untouched.
type Task struct {
	TaskID        string
	State         TaskState
	SystemPID     int32
	Hostname      string // Hostname is the host of the owning process. Empty for records written by older producers.
	UseGPUs       []int
	CreateTime    time.Time
	RunTime       *time.Time
	CompletedTime *time.Time

	// raw is the exact encoding the record was read with, so that it can be removed from a list by value.
	raw string
}

// NewTask creates a new waiting Task.
func NewTask(taskId string, pid int32, hostname string, createTime time.Time) *Task {
	return &Task{
		TaskID:     taskId,
		State:      TaskWaiting,
		SystemPID:  pid,
		Hostname:   hostname,
		UseGPUs:    []int{},
		CreateTime: createTime.Truncate(time.Second),
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("Task[ID=%s,State=%s,PID=%d,Host=%s,GPUs=%s]",
		t.TaskID, t.State, t.SystemPID, t.Hostname, t.GPUString())
}

// GPUString returns the assigned device indices joined with commas, as they are serialized.
func (t *Task) GPUString() string {
	parts := make([]string, 0, len(t.UseGPUs))
	for _, idx := range t.UseGPUs {
		parts = append(parts, strconv.Itoa(idx))
	}

	return strings.Join(parts, ",")
}

// Raw returns the encoding the Task was decoded from. Tasks that were never decoded are encoded on demand.
func (t *Task) Raw() (string, error) {
	if t.raw != "" {
		return t.raw, nil
	}

	return t.Encode()
}

// Clone returns a deep copy of the Task that carries no stored encoding.
func (t *Task) Clone() *Task {
	clone := *t
	clone.raw = ""
	clone.UseGPUs = append([]int{}, t.UseGPUs...)

	if t.RunTime != nil {
		runTime := *t.RunTime
		clone.RunTime = &runTime
	}

	if t.CompletedTime != nil {
		completedTime := *t.CompletedTime
		clone.CompletedTime = &completedTime
	}

	return &clone
}

// Admitted returns a running copy of the Task that holds the given devices.
func (t *Task) Admitted(gpus []int, at time.Time) *Task {
	next := t.Clone()
	next.State = TaskRunning
	next.UseGPUs = append([]int{}, gpus...)
	runTime := at.Truncate(time.Second)
	next.RunTime = &runTime
	next.CompletedTime = nil
	return next
}

// Completed returns a completed copy of the Task.
func (t *Task) Completed(at time.Time) *Task {
	next := t.Clone()
	next.State = TaskCompleted
	completedTime := at.Truncate(time.Second)
	next.CompletedTime = &completedTime
	return next
}

// Requeued returns a waiting copy of the Task with its admission data cleared.
func (t *Task) Requeued() *Task {
	next := t.Clone()
	next.State = TaskWaiting
	next.UseGPUs = []int{}
	next.RunTime = nil
	next.CompletedTime = nil
	return next
}

// Closed returns a closed copy of the Task.
func (t *Task) Closed() *Task {
	next := t.Clone()
	next.State = TaskClosed
	return next
}

// taskRecord is the flat wire representation of a Task.
type taskRecord struct {
	TaskID        string    `json:"task_id"`
	SystemPID     int32     `json:"system_pid"`
	Hostname      string    `json:"hostname,omitempty"`
	UseGPUs       string    `json:"use_gpus"`
	State         TaskState `json:"state"`
	CreateTime    string    `json:"create_time"`
	RunTime       string    `json:"run_time,omitempty"`
	CompletedTime string    `json:"completed_time,omitempty"`
}

// Encode serializes the Task. Optional fields that do not apply are omitted entirely.
func (t *Task) Encode() (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}

	record := taskRecord{
		TaskID:     t.TaskID,
		SystemPID:  t.SystemPID,
		Hostname:   t.Hostname,
		UseGPUs:    t.GPUString(),
		State:      t.State,
		CreateTime: t.CreateTime.Format(TimeLayout),
	}

	if t.RunTime != nil {
		record.RunTime = t.RunTime.Format(TimeLayout)
	}

	if t.CompletedTime != nil {
		record.CompletedTime = t.CompletedTime.Format(TimeLayout)
	}

	encoded, err := json.Marshal(&record)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// DecodeTask parses and validates a serialized Task.
//
// DecodeTask returns an error wrapping ErrMalformedRecord if a required field is missing or any field is invalid.
func DecodeTask(raw string) (*Task, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	task := &Task{raw: raw, UseGPUs: []int{}}

	var err error
	if task.TaskID, err = requiredString(fields, "task_id"); err != nil {
		return nil, err
	}

	state, err := requiredString(fields, "state")
	if err != nil {
		return nil, err
	}

	task.State = TaskState(state)
	if !task.State.IsValid() {
		return nil, fmt.Errorf("%w: unknown state \"%s\"", ErrMalformedRecord, state)
	}

	if task.SystemPID, err = decodePID(fields["system_pid"]); err != nil {
		return nil, err
	}

	if _, ok := fields["hostname"]; ok {
		if task.Hostname, err = requiredString(fields, "hostname"); err != nil {
			return nil, err
		}
	}

	if task.UseGPUs, err = decodeGPUs(fields["use_gpus"]); err != nil {
		return nil, err
	}

	if task.CreateTime, err = requiredTime(fields, "create_time"); err != nil {
		return nil, err
	}

	if _, ok := fields["run_time"]; ok {
		runTime, err := requiredTime(fields, "run_time")
		if err != nil {
			return nil, err
		}
		task.RunTime = &runTime
	}

	if _, ok := fields["completed_time"]; ok {
		completedTime, err := requiredTime(fields, "completed_time")
		if err != nil {
			return nil, err
		}
		task.CompletedTime = &completedTime
	}

	// Operators may edit "state" directly in the store, so the optional fields are not cross-checked against it here.
	if err = task.validateRequired(); err != nil {
		return nil, err
	}

	return task, nil
}

// validate checks the required fields and the invariants that tie the optional fields to the state.
func (t *Task) validate() error {
	if err := t.validateRequired(); err != nil {
		return err
	}

	if t.State == TaskRunning && t.RunTime == nil {
		return fmt.Errorf("%w: running task %s has no \"run_time\"", ErrMalformedRecord, t.TaskID)
	}

	if t.State == TaskWaiting && t.RunTime != nil {
		return fmt.Errorf("%w: waiting task %s has a \"run_time\"", ErrMalformedRecord, t.TaskID)
	}

	if t.State == TaskCompleted && t.CompletedTime == nil {
		return fmt.Errorf("%w: completed task %s has no \"completed_time\"", ErrMalformedRecord, t.TaskID)
	}

	if (t.State == TaskWaiting || t.State == TaskRunning) && t.CompletedTime != nil {
		return fmt.Errorf("%w: %s task %s has a \"completed_time\"", ErrMalformedRecord, t.State, t.TaskID)
	}

	return nil
}

func (t *Task) validateRequired() error {
	if t.TaskID == "" {
		return fmt.Errorf("%w: empty \"task_id\"", ErrMalformedRecord)
	}

	if !t.State.IsValid() {
		return fmt.Errorf("%w: unknown state \"%s\"", ErrMalformedRecord, t.State)
	}

	if t.SystemPID <= 0 {
		return fmt.Errorf("%w: invalid \"system_pid\" %d", ErrMalformedRecord, t.SystemPID)
	}

	return nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	value, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing \"%s\"", ErrMalformedRecord, key)
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("%w: \"%s\" is not a string", ErrMalformedRecord, key)
	}

	return s, nil
}

func requiredTime(fields map[string]json.RawMessage, key string) (time.Time, error) {
	s, err := requiredString(fields, key)
	if err != nil {
		return time.Time{}, err
	}

	ts, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: \"%s\" value \"%s\" is not a timestamp", ErrMalformedRecord, key, s)
	}

	return ts, nil
}

// decodePID accepts the pid as a JSON number or as a numeric string.
func decodePID(value json.RawMessage) (int32, error) {
	if value == nil {
		return 0, fmt.Errorf("%w: missing \"system_pid\"", ErrMalformedRecord)
	}

	text := strings.Trim(string(bytes.TrimSpace(value)), "\"")
	pid, err := strconv.ParseInt(text, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: invalid \"system_pid\" %s", ErrMalformedRecord, string(value))
	}

	return int32(pid), nil
}

// decodeGPUs accepts either the comma-joined string form or a JSON array of numbers or numeric strings.
// A missing field is treated as no assigned devices.
func decodeGPUs(value json.RawMessage) ([]int, error) {
	gpus := make([]int, 0)
	if value == nil || string(value) == "null" {
		return gpus, nil
	}

	var joined string
	if err := json.Unmarshal(value, &joined); err == nil {
		for _, part := range strings.Split(joined, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid device index \"%s\" in \"use_gpus\"", ErrMalformedRecord, part)
			}
			gpus = append(gpus, idx)
		}

		return gpus, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(value, &list); err != nil {
		return nil, fmt.Errorf("%w: \"use_gpus\" is neither a string nor a list", ErrMalformedRecord)
	}

	for _, elem := range list {
		nested, err := decodeGPUs(elem)
		if err == nil {
			gpus = append(gpus, nested...)
			continue
		}

		idx, err := strconv.Atoi(strings.TrimSpace(string(elem)))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid device index %s in \"use_gpus\"", ErrMalformedRecord, string(elem))
		}
		gpus = append(gpus, idx)
	}

	return gpus, nil
}
