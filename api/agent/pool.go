package agent

import (
	"context"
	"sync"
	"time"

	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// pool owns every live worker and all pool-level bookkeeping. The policy
// decision and its side effect (registering a new worker, picking an existing
// one) happen under the same lock, so the live worker count can never
// overshoot the configured maximum, not even transiently.
type pool struct {
	cfg   *Config
	sup   *supervisor
	stats *stats

	mu        sync.Mutex
	workers   map[string]*worker
	exhausted bool
	closed    bool
	// waiters are acquisitions parked on DecisionBusy, all woken whenever a
	// slot frees or the pool closes
	waiters []chan struct{}

	// history keeps outcomes of retired workers visible on the admin surface
	// for a while after the worker is gone
	history *cache.Cache
}

func newPool(cfg *Config, sup *supervisor, st *stats) *pool {
	return &pool{
		cfg:     cfg,
		sup:     sup,
		stats:   st,
		workers: make(map[string]*worker),
		history: cache.New(cfg.OutcomeHistoryTTL, cfg.OutcomeHistoryTTL),
	}
}

// viewLocked projects the live workers for the policy engine. Callers hold mu.
func (p *pool) viewLocked() []workerView {
	live := make([]workerView, 0, len(p.workers))
	for _, w := range p.workers {
		live = append(live, workerView{id: w.id, role: w.role, inflight: w.queued()})
	}
	return live
}

// acquire resolves a single request to a worker, creating one if the policy
// calls for it. It returns a capacity error rather than ever hanging forever
// when RequestWaitTimeout is set, and honors caller cancellation.
func (p *pool) acquire(ctx context.Context) (*worker, error) {
	var timeout <-chan time.Time
	if p.cfg.Policy.RequestWaitTimeout > 0 {
		timer := time.NewTimer(p.cfg.Policy.RequestWaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, models.ErrServerShuttingDown
		}

		d := decide(p.cfg.Policy, p.exhausted, p.viewLocked())
		switch d.Kind {
		case DecisionReuse:
			w := p.workers[d.WorkerID]
			p.mu.Unlock()
			return w, nil

		case DecisionCreate:
			w := p.spawnLocked()
			p.mu.Unlock()
			return w, nil

		case DecisionExhausted:
			p.mu.Unlock()
			return nil, models.ErrPoolExhausted

		case DecisionBusy:
			waiter := make(chan struct{})
			p.waiters = append(p.waiters, waiter)
			p.mu.Unlock()

			select {
			case <-waiter:
				// a slot may have freed, re-evaluate
			case <-timeout:
				return nil, models.ErrRequestWaitTimeout
			case <-ctx.Done():
				return nil, models.ErrConnectionLost
			}

		default:
			p.mu.Unlock()
			return nil, models.ErrWorkerUnavailable
		}
	}
}

// spawnLocked registers a new worker and starts its supervisor goroutine.
// Callers hold mu.
func (p *pool) spawnLocked() *worker {
	w := newWorker(roleForMode(p.cfg.Policy.Mode), &p.cfg.Service, p.cfg.InboundBuffer)
	p.workers[w.id] = w
	p.stats.WorkerUp()
	go p.run(w)
	return w
}

func (p *pool) run(w *worker) {
	if limit := p.cfg.WallClockLimit; limit > 0 {
		t := time.AfterFunc(limit, func() {
			w.Terminate(models.Terminated{Reason: models.ReasonWallClockLimit})
			w.closeInbound()
		})
		defer t.Stop()
	}
	outcome := p.sup.supervise(w)
	p.retire(w, outcome)
}

// retire removes a worker from the pool with its terminal outcome. The first
// caller to record an outcome owns all bookkeeping, later callers only help
// drain the inbound queue. Every request still queued on the dead worker is
// failed explicitly so no caller is left hanging.
func (p *pool) retire(w *worker, outcome models.Outcome) {
	first := w.recordOutcome(outcome)
	if first {
		outcome = w.Outcome()

		p.mu.Lock()
		delete(p.workers, w.id)
		if w.role == RoleOneshot {
			// the process's single worker is spent, for good
			p.exhausted = true
		}
		waiters := p.waiters
		p.waiters = nil
		p.mu.Unlock()

		p.stats.WorkerDown(outcome)
		p.history.Set(w.id, outcome, cache.DefaultExpiration)
		for _, c := range waiters {
			close(c)
		}

		logrus.WithFields(logrus.Fields{
			"worker_id": w.id,
			"role":      w.role.String(),
			"outcome":   outcome.String(),
			"uptime":    time.Since(w.started).String(),
		}).Info("worker retired")
	}

	w.closeInbound()
	reqErr := errorForOutcome(w.Outcome())
	for req := range w.inbound {
		req.Fail(reqErr)
	}
}

// errorForOutcome maps a worker's terminal outcome to the error surfaced to
// requests that were still queued on it when it died.
func errorForOutcome(o models.Outcome) error {
	switch o.(type) {
	case models.BootFailure:
		return models.ErrServiceBootFailure
	case models.UncaughtException:
		return models.ErrServiceFailure
	case models.Terminated:
		return models.ErrWorkerUnavailable
	}
	return models.ErrWorkerUnavailable
}

// recycle terminates every reusable worker with the given reason. New workers
// are created lazily by the next acquisitions, so traffic sees at most a cold
// start, never an error.
func (p *pool) recycle(reason models.TerminationReason) {
	p.mu.Lock()
	var targets []*worker
	for _, w := range p.workers {
		if w.role == RoleReusable {
			targets = append(targets, w)
		}
	}
	p.mu.Unlock()

	for _, w := range targets {
		w.Terminate(models.Terminated{Reason: reason})
		w.closeInbound()
	}
	if len(targets) > 0 {
		logrus.WithFields(logrus.Fields{"workers": len(targets), "reason": string(reason)}).
			Info("recycled reusable workers")
	}
}

// close stops the pool. With a zero deadline every live worker is killed on
// the spot. Otherwise inbound streams are closed so workers can drain, and
// any worker still live when the deadline lapses is killed with a synthesized
// deadline outcome. close never blocks on a stuck engine past the deadline.
func (p *pool) close(ctx context.Context, deadline time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	live := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		live = append(live, w)
	}
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	// parked acquisitions re-evaluate and observe the closed pool
	for _, c := range waiters {
		close(c)
	}

	log := common.Logger(ctx).WithFields(logrus.Fields{"workers": len(live), "deadline": deadline.String()})
	log.Info("draining worker pool")

	if deadline == 0 {
		for _, w := range live {
			w.Terminate(models.Terminated{Reason: models.ReasonShutdown})
			p.retire(w, models.Terminated{Reason: models.ReasonShutdown})
		}
		return
	}

	for _, w := range live {
		w.closeInbound()
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	expired := false
	for _, w := range live {
		if !expired {
			select {
			case <-w.Done():
				continue
			case <-timer.C:
				expired = true
			}
		}
		w.Terminate(models.Terminated{Reason: models.ReasonDeadlineExceeded})
		p.retire(w, models.Terminated{Reason: models.ReasonDeadlineExceeded})
	}
}

// WorkerInfo is one row of the admin worker listing.
type WorkerInfo struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"`
	Started time.Time `json:"started,omitempty"`
	Queued  int       `json:"queued,omitempty"`
	Live    bool      `json:"live"`
	Outcome string    `json:"outcome,omitempty"`
}

// snapshot lists live workers plus recently retired ones with their outcomes.
func (p *pool) snapshot() []WorkerInfo {
	p.mu.Lock()
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, WorkerInfo{
			ID:      w.id,
			Role:    w.role.String(),
			Started: w.started,
			Queued:  w.queued(),
			Live:    true,
		})
	}
	p.mu.Unlock()

	for wid, item := range p.history.Items() {
		o, ok := item.Object.(models.Outcome)
		if !ok {
			continue
		}
		out = append(out, WorkerInfo{ID: wid, Outcome: o.String()})
	}
	return out
}
