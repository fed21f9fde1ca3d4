package agent

import (
	"context"
	"sync"

	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/models"
	"github.com/prometheus/client_golang/prometheus"
)

// global statistics for the agent, mirrored into prometheus
type stats struct {
	mu          sync.Mutex
	queue       uint64
	running     uint64
	complete    uint64
	failed      uint64
	workersLive uint64
	// terminal outcome counts keyed by outcome kind
	outcomes map[string]uint64
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Queue       uint64            `json:"queue"`
	Running     uint64            `json:"running"`
	Complete    uint64            `json:"complete"`
	Failed      uint64            `json:"failed"`
	WorkersLive uint64            `json:"workers_live"`
	Outcomes    map[string]uint64 `json:"outcomes"`
}

var (
	isoQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iso_requests_queued",
			Help: "Requests waiting for a worker",
		},
	)
	isoRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iso_requests_running",
			Help: "Requests currently assigned to a worker",
		},
	)
	isoCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iso_requests_completed",
			Help: "Requests that resolved with a response",
		},
	)
	isoFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iso_requests_failed",
			Help: "Requests that resolved with an error",
		},
	)
	isoWorkersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iso_workers_live",
			Help: "Workers currently live in the pool",
		},
	)
	isoWorkerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iso_worker_outcomes",
			Help: "Terminal worker outcomes by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(isoQueued)
	prometheus.MustRegister(isoRunning)
	prometheus.MustRegister(isoCompleted)
	prometheus.MustRegister(isoFailed)
	prometheus.MustRegister(isoWorkersLive)
	prometheus.MustRegister(isoWorkerOutcomes)
}

func (s *stats) Enqueue(ctx context.Context) {
	s.mu.Lock()
	s.queue++
	s.mu.Unlock()
	isoQueued.Inc()
	common.IncrementGauge(ctx, "queued")
}

// Dequeue handles a request that gave up before being assigned a worker.
func (s *stats) Dequeue(ctx context.Context) {
	s.mu.Lock()
	s.queue--
	s.failed++
	s.mu.Unlock()
	isoQueued.Dec()
	isoFailed.Inc()
	common.DecrementGauge(ctx, "queued")
}

func (s *stats) DequeueAndStart(ctx context.Context) {
	s.mu.Lock()
	s.queue--
	s.running++
	s.mu.Unlock()
	isoQueued.Dec()
	isoRunning.Inc()
	common.DecrementGauge(ctx, "queued")
	common.IncrementGauge(ctx, "running")
}

func (s *stats) Complete(ctx context.Context) {
	s.mu.Lock()
	s.running--
	s.complete++
	s.mu.Unlock()
	isoRunning.Dec()
	isoCompleted.Inc()
	common.DecrementGauge(ctx, "running")
	common.IncrementCounter(ctx, "completed")
}

func (s *stats) Failed(ctx context.Context) {
	s.mu.Lock()
	s.running--
	s.failed++
	s.mu.Unlock()
	isoRunning.Dec()
	isoFailed.Inc()
	common.DecrementGauge(ctx, "running")
	common.IncrementCounter(ctx, "failed")
}

func (s *stats) WorkerUp() {
	s.mu.Lock()
	s.workersLive++
	s.mu.Unlock()
	isoWorkersLive.Inc()
}

func (s *stats) WorkerDown(outcome models.Outcome) {
	kind := outcomeKind(outcome)
	s.mu.Lock()
	s.workersLive--
	if s.outcomes == nil {
		s.outcomes = make(map[string]uint64)
	}
	s.outcomes[kind]++
	s.mu.Unlock()
	isoWorkersLive.Dec()
	isoWorkerOutcomes.WithLabelValues(kind).Inc()
}

func (s *stats) Stats() Stats {
	var out Stats
	s.mu.Lock()
	out.Queue = s.queue
	out.Running = s.running
	out.Complete = s.complete
	out.Failed = s.failed
	out.WorkersLive = s.workersLive
	out.Outcomes = make(map[string]uint64, len(s.outcomes))
	for k, v := range s.outcomes {
		out.Outcomes[k] = v
	}
	s.mu.Unlock()
	return out
}

func outcomeKind(o models.Outcome) string {
	switch o.(type) {
	case models.BootFailure:
		return "boot_failure"
	case models.UncaughtException:
		return "uncaught_exception"
	case models.Completed:
		return "completed"
	case models.Terminated:
		return "terminated"
	}
	return "unknown"
}
