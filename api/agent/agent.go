package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/isoserve/isoserve/api/agent/engine"
	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/models"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Agent exposes a simple interface for routing requests to sandboxed
// workers, with the resources and lifecycle of those workers managed for
// the caller behind it.
//
// Overview of how this works:
//
//   - Submit picks or creates a worker for the request per the pooling
//     policy and places the request on the worker's inbound stream.
//   - Each worker is driven by its own supervisor goroutine from engine
//     creation to exactly one terminal outcome.
//   - The caller waits on the request's disposition, never on the worker
//     itself, so a dying worker can never strand a request.
//
// Calls to Close stop admission, give outstanding submissions up to the
// grace deadline to land, then drain the pool within that same deadline.
// A stuck engine or a full inbound stream can never hold Close past it.
type Agent interface {
	// Submit routes a request to a worker. It returns once the request has
	// been accepted onto a worker's inbound stream, not once it resolves.
	// All returned errors are models.APIError values.
	Submit(ctx context.Context, req *models.RoutedRequest) error

	// Stats returns a snapshot of pool-level counters.
	Stats() Stats

	// Workers lists live workers and recently retired outcomes.
	Workers() []WorkerInfo

	// PromHandler serves the prometheus registry.
	PromHandler() http.Handler

	// Close drains the pool. Safe to call more than once.
	Close() error
}

type agent struct {
	cfg     *Config
	pool    *pool
	factory engine.Factory
	stats   *stats

	// limiter is nil when admission limiting is disabled
	limiter *rate.Limiter

	// shutWg tracks submissions in flight so Close never cuts a request
	// that was already admitted
	shutWg    *common.WaitGroup
	shutonce  sync.Once
	watchStop func()
}

// Option configures an agent at construction.
type Option func(*agent) error

// WithHandler substitutes the worker outcome handler, used by tests.
func WithHandler(h WorkerHandler) Option {
	return func(a *agent) error {
		a.pool.sup.handler = h
		return nil
	}
}

// New constructs an agent serving the configured service through the given
// engine factory.
func New(cfg *Config, factory engine.Factory, options ...Option) (Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := &stats{}
	a := &agent{
		cfg:     cfg,
		factory: factory,
		stats:   st,
		shutWg:  common.NewWaitGroup(),
	}
	a.pool = newPool(cfg, &supervisor{factory: factory, handler: defaultHandler{}}, st)

	if cfg.AdmissionRate > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionRate), cfg.AdmissionBurst)
	}

	for _, o := range options {
		if err := o(a); err != nil {
			return nil, err
		}
	}

	if cfg.WatchService {
		stop, err := watchService(cfg.Service.Path, a.pool)
		if err != nil {
			return nil, err
		}
		a.watchStop = stop
	}

	logrus.WithFields(logrus.Fields{
		"policy":          cfg.Policy.Mode,
		"max_parallelism": cfg.Policy.MaxParallelism,
		"service":         cfg.Service.Path,
	}).Info("agent starting")
	return a, nil
}

func (a *agent) Submit(ctx context.Context, req *models.RoutedRequest) error {
	if !a.shutWg.AddSession() {
		return models.ErrServerShuttingDown
	}
	defer a.shutWg.RmSession()

	if a.limiter != nil && !a.limiter.Allow() {
		return models.ErrTooBusy
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "agent_submit")
	defer span.Finish()

	a.stats.Enqueue(ctx)
	// resolution can happen after the caller's context is gone
	obsCtx := common.BackgroundContext(ctx)
	start := time.Now()
	req.Observe(func(d models.Disposition) {
		common.PublishHistogram(obsCtx, "request_duration_ms", float64(time.Since(start).Milliseconds()))
		if d.Err != nil {
			a.stats.Failed(obsCtx)
		} else {
			a.stats.Complete(obsCtx)
		}
	})

	w, err := a.pool.acquire(ctx)
	if err != nil {
		a.stats.Dequeue(ctx)
		return err
	}
	common.PublishHistograms(ctx, map[string]float64{
		"worker_acquire_latency_ms": float64(time.Since(start).Milliseconds()),
		"worker_queue_depth":        float64(w.queued()),
	})

	if err := w.submit(ctx, req); err != nil {
		if err == models.ErrWorkerUnavailable {
			select {
			case <-w.Done():
				// the worker died between acquisition and delivery, surface why
				err = errorForOutcome(w.Outcome())
			default:
			}
		}
		a.stats.Dequeue(ctx)
		return err
	}

	if w.role == RoleSingleRequest {
		// the worker serves this one request and then drains out
		w.closeInbound()
	}

	a.stats.DequeueAndStart(ctx)
	go watchdog(req, w)
	return nil
}

// watchdog fails the request if its worker reaches a terminal state before
// the request resolves, so a caller blocked on the disposition channel can
// never hang on a dead worker.
func watchdog(req *models.RoutedRequest, w *worker) {
	select {
	case <-req.Resolved():
	case <-w.Done():
		req.Fail(errorForOutcome(w.Outcome()))
	}
}

func (a *agent) Stats() Stats          { return a.stats.Stats() }
func (a *agent) Workers() []WorkerInfo { return a.pool.snapshot() }

func (a *agent) PromHandler() http.Handler { return promhttp.Handler() }

func (a *agent) Close() error {
	a.shutonce.Do(func() {
		if a.watchStop != nil {
			a.watchStop()
		}
		// Stop accepting new submissions and give admitted ones up to the
		// grace deadline to land on their workers. A submission parked on a
		// full inbound channel only unblocks once pool.close shuts the
		// stream down, so the drain must not wait on it unconditionally.
		drained := a.shutWg.CloseGroupNB()
		grace := time.NewTimer(a.cfg.GracefulExitDeadline)
		select {
		case <-drained:
		case <-grace.C:
		}
		grace.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulExitDeadline+time.Minute)
		defer cancel()
		a.pool.close(ctx, a.cfg.GracefulExitDeadline)

		// closing the pool released any parked submissions
		<-drained
	})
	return a.factory.Close()
}
