package coordinator

import "github.com/scusemua/training-queue/common/storage"

const (
	DeferredQueued             = "queued"
	DeferredNoDevices          = "no_devices"
	DeferredInsufficientMemory = "insufficient_memory"
	DeferredLostRace           = "lost_race"
)

// MetricsReporter receives the coordinator's transition and queue-depth observations.
type MetricsReporter interface {
	TaskRegistered()
	TaskAdmitted()
	AdmissionDeferred(reason string)
	TaskCompleted()
	TaskRequeued()
	TaskReclaimed(queue storage.QueueName)
	QueueLength(queue storage.QueueName, length int64)
}

type noopMetrics struct{}

func (noopMetrics) TaskRegistered()                      {}
func (noopMetrics) TaskAdmitted()                        {}
func (noopMetrics) AdmissionDeferred(string)             {}
func (noopMetrics) TaskCompleted()                       {}
func (noopMetrics) TaskRequeued()                        {}
func (noopMetrics) TaskReclaimed(storage.QueueName)      {}
func (noopMetrics) QueueLength(storage.QueueName, int64) {}
