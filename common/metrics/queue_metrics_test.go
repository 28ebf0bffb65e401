package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scusemua/training-queue/common/coordinator"
	"github.com/scusemua/training-queue/common/metrics"
	"github.com/scusemua/training-queue/common/storage"
)

var _ coordinator.MetricsReporter = (*metrics.QueueMetricsManager)(nil)

var _ = Describe("QueueMetricsManager", func() {
	var (
		registry *prometheus.Registry
		manager  *metrics.QueueMetricsManager
	)

	BeforeEach(func() {
		var err error
		registry = prometheus.NewRegistry()
		manager, err = metrics.NewQueueMetricsManager(0, registry)
		Expect(err).To(BeNil())
	})

	It("Will count transitions", func() {
		manager.TaskRegistered()
		manager.TaskRegistered()
		manager.TaskAdmitted()
		manager.TaskCompleted()
		manager.TaskRequeued()
		manager.AdmissionDeferred(coordinator.DeferredInsufficientMemory)
		manager.TaskReclaimed(storage.RunQueue)

		Expect(testutil.ToFloat64(manager.RegisteredCounter)).To(Equal(2.0))
		Expect(testutil.ToFloat64(manager.AdmittedCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(manager.CompletedCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(manager.RequeuedCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(manager.DeferredCounterVec.WithLabelValues(coordinator.DeferredInsufficientMemory))).To(Equal(1.0))
		Expect(testutil.ToFloat64(manager.ReclaimedCounterVec.WithLabelValues("run"))).To(Equal(1.0))
	})

	It("Will record the latest queue lengths", func() {
		manager.QueueLength(storage.WaitQueue, 4)
		manager.QueueLength(storage.WaitQueue, 3)

		Expect(testutil.ToFloat64(manager.QueueLengthGaugeVec.WithLabelValues("wait"))).To(Equal(3.0))
	})

	It("Will refuse to register its metrics twice with the same registry", func() {
		_, err := metrics.NewQueueMetricsManager(0, registry)
		Expect(err).ToNot(BeNil())
	})

	It("Will serve the metrics over HTTP", func() {
		manager.QueueLength(storage.RunQueue, 2)

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		manager.Handler().ServeHTTP(recorder, request)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring(`training_queue_length{queue="run"} 2`))
	})

	It("Will not serve when no port is configured", func() {
		Expect(manager.Start()).To(Succeed())
		Expect(manager.IsRunning()).To(BeFalse())

		err := manager.Stop(context.Background())
		Expect(errors.Is(err, metrics.ErrNotRunning)).To(BeTrue())
	})
})
