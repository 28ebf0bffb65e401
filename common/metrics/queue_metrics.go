package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/training-queue/common/storage"
	"github.com/scusemua/training-queue/common/utils"
)

const (
	namespace = "training_queue"
)

var (
	ErrAlreadyRunning = errors.New("the QueueMetricsManager is already running")
	ErrNotRunning     = errors.New("the QueueMetricsManager is not running")
)

// QueueMetricsManager records queue depths and task transitions as Prometheus metrics and serves them over HTTP.
type QueueMetricsManager struct {
	log logger.Logger

	registry prometheus.Registerer
	handler  http.Handler
	engine   *gin.Engine

	httpServer *http.Server
	port       int
	mu         sync.Mutex

	// serving indicates whether the manager has been started and is serving requests.
	serving bool

	// QueueLengthGaugeVec is the number of records in each queue, labelled by "queue".
	QueueLengthGaugeVec *prometheus.GaugeVec

	RegisteredCounter prometheus.Counter
	AdmittedCounter   prometheus.Counter
	CompletedCounter  prometheus.Counter
	RequeuedCounter   prometheus.Counter

	// DeferredCounterVec counts failed admission attempts, labelled by "reason".
	DeferredCounterVec *prometheus.CounterVec

	// ReclaimedCounterVec counts records removed by reconciliation, labelled by "queue".
	ReclaimedCounterVec *prometheus.CounterVec
}

// NewQueueMetricsManager creates the metrics and registers them with the given registry.
// If registry is nil, the metrics are registered with, and served from, the default Prometheus registry.
//
// Metrics are served on port only once Start is called. A port of zero or less disables serving.
func NewQueueMetricsManager(port int, registry *prometheus.Registry) (*QueueMetricsManager, error) {
	m := &QueueMetricsManager{
		port: port,
	}
	config.InitLogger(&m.log, m)

	if registry == nil {
		m.registry = prometheus.DefaultRegisterer
		m.handler = promhttp.Handler()
	} else {
		m.registry = registry
		m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	if err := m.initializeMetrics(); err != nil {
		return nil, err
	}

	m.initializeEngine()

	return m, nil
}

func (m *QueueMetricsManager) initializeMetrics() error {
	m.QueueLengthGaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "length",
		Help:      "Number of records in each task queue, as of the most recent reconciliation",
	}, []string{"queue"})
	m.RegisteredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_registered_total",
		Help:      "Total number of tasks added to the wait queue by this process",
	})
	m.AdmittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_admitted_total",
		Help:      "Total number of tasks moved from the wait queue to the run queue",
	})
	m.DeferredCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_admission_deferred_total",
		Help:      "Total number of admission attempts that left the task waiting",
	}, []string{"reason"})
	m.CompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total number of tasks moved to the complete queue",
	})
	m.RequeuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_requeued_total",
		Help:      "Total number of failed tasks returned to the tail of the wait queue",
	})
	m.ReclaimedCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_reclaimed_total",
		Help:      "Total number of records of dead processes removed by reconciliation",
	}, []string{"queue"})

	collectors := map[string]prometheus.Collector{
		"Queue Length":       m.QueueLengthGaugeVec,
		"Tasks Registered":   m.RegisteredCounter,
		"Tasks Admitted":     m.AdmittedCounter,
		"Admission Deferred": m.DeferredCounterVec,
		"Tasks Completed":    m.CompletedCounter,
		"Tasks Requeued":     m.RequeuedCounter,
		"Tasks Reclaimed":    m.ReclaimedCounterVec,
	}

	for name, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", name, err)
			return err
		}
	}

	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (m *QueueMetricsManager) HandleRequest(c *gin.Context) {
	m.handler.ServeHTTP(c.Writer, c.Request)
}

func (m *QueueMetricsManager) initializeEngine() {
	m.engine = gin.New()
	m.engine.Use(gin.Recovery())
	m.engine.Use(cors.Default())
	m.engine.GET("/metrics", m.HandleRequest)
}

// Handler returns the HTTP handler that serves the metrics.
func (m *QueueMetricsManager) Handler() http.Handler {
	return m.engine
}

// IsRunning returns true if the QueueMetricsManager has been started and is serving metrics.
func (m *QueueMetricsManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.serving
}

// Start begins serving the metrics via an HTTP endpoint.
func (m *QueueMetricsManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serving {
		return ErrAlreadyRunning
	}

	if m.port <= 0 {
		m.log.Debug("Prometheus port is set to %d. Not serving metrics.", m.port)
		return nil
	}

	address := fmt.Sprintf("0.0.0.0:%d", m.port)
	m.httpServer = &http.Server{
		Addr:    address,
		Handler: m.engine,
	}
	m.serving = true

	go func() {
		m.log.Debug("Serving Prometheus metrics at %s", address)
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(utils.RedStyle.Render("HTTP server failed to listen on '%s'. Error: %v"), address, err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (m *QueueMetricsManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.serving {
		return ErrNotRunning
	}

	m.serving = false
	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}

	return nil
}

func (m *QueueMetricsManager) TaskRegistered() {
	m.RegisteredCounter.Inc()
}

func (m *QueueMetricsManager) TaskAdmitted() {
	m.AdmittedCounter.Inc()
}

func (m *QueueMetricsManager) AdmissionDeferred(reason string) {
	m.DeferredCounterVec.With(prometheus.Labels{"reason": reason}).Inc()
}

func (m *QueueMetricsManager) TaskCompleted() {
	m.CompletedCounter.Inc()
}

func (m *QueueMetricsManager) TaskRequeued() {
	m.RequeuedCounter.Inc()
}

func (m *QueueMetricsManager) TaskReclaimed(queue storage.QueueName) {
	m.ReclaimedCounterVec.With(prometheus.Labels{"queue": queue.String()}).Inc()
}

func (m *QueueMetricsManager) QueueLength(queue storage.QueueName, length int64) {
	m.QueueLengthGaugeVec.With(prometheus.Labels{"queue": queue.String()}).Set(float64(length))
}
