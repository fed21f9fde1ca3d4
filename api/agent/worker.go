package agent

import (
	"context"
	"sync"
	"time"

	"github.com/isoserve/isoserve/api/id"
	"github.com/isoserve/isoserve/api/models"
)

// PoolingRole says how many requests a worker may serve in its lifetime.
type PoolingRole int

const (
	// RoleReusable workers serve requests until terminated.
	RoleReusable PoolingRole = iota
	// RoleSingleRequest workers serve exactly one request.
	RoleSingleRequest
	// RoleOneshot workers are reusable but the pool dies with them.
	RoleOneshot
)

func (r PoolingRole) String() string {
	switch r {
	case RoleReusable:
		return "reusable"
	case RoleSingleRequest:
		return "single_request"
	case RoleOneshot:
		return "oneshot"
	}
	return "unknown"
}

func roleForMode(mode PolicyMode) PoolingRole {
	switch mode {
	case PolicyPerRequest:
		return RoleSingleRequest
	case PolicyOneshot:
		return RoleOneshot
	}
	return RoleReusable
}

// worker is one unit of execution capacity. It is exclusively owned by its
// supervisor goroutine until a terminal outcome is recorded, after which
// ownership passes to the pool for bookkeeping removal.
type worker struct {
	id      string
	role    PoolingRole
	spec    *models.ServiceSpec
	started time.Time

	// inbound carries routed requests to the execution engine. inboundMu
	// orders submissions against closeInbound so nobody sends on a closed
	// channel, and closing releases submissions parked on a full inbound
	// before closeInbound waits for their locks.
	inbound       chan *models.RoutedRequest
	inboundOnce   sync.Once
	inboundMu     sync.RWMutex
	inboundClosed bool
	closing       chan struct{}

	// termCh carries the authoritative outcome when termination is triggered
	// out-of-band. Terminate sends on it strictly before cancelling the run
	// context so the supervisor can never observe a terminated run with an
	// empty receiver.
	termCh   chan models.Outcome
	termOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// done is closed exactly once, when the terminal outcome is recorded.
	done        chan struct{}
	outcomeOnce sync.Once
	outcome     models.Outcome
}

func newWorker(role PoolingRole, spec *models.ServiceSpec, buffer int) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:      id.New().String(),
		role:    role,
		spec:    spec,
		started: time.Now(),
		inbound: make(chan *models.RoutedRequest, buffer),
		closing: make(chan struct{}),
		termCh:  make(chan models.Outcome, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Terminate force-stops the worker's execution loop with the given
// authoritative outcome. The first call wins, later calls are no-ops. The
// outcome is placed on the termination channel before the run context is
// cancelled, guaranteeing the send happens-before the run loop can observe
// the termination condition.
func (w *worker) Terminate(o models.Outcome) {
	w.termOnce.Do(func() {
		w.termCh <- o
		w.cancel()
	})
}

// closeInbound ends the worker's request stream. Idempotent. The closing
// signal goes out before the write lock is taken, so submissions parked on a
// full inbound channel bail out instead of holding their read locks forever.
func (w *worker) closeInbound() {
	w.inboundOnce.Do(func() {
		close(w.closing)
		w.inboundMu.Lock()
		w.inboundClosed = true
		close(w.inbound)
		w.inboundMu.Unlock()
	})
}

// submit places a request on the worker's inbound channel. It fails with
// ErrWorkerUnavailable if the worker already reached a terminal state or its
// stream is closing, and with ErrConnectionLost if the caller gives up first.
// A full queue only blocks until one of those signals fires, so the caller
// can never hang on a dead or draining worker.
func (w *worker) submit(ctx context.Context, req *models.RoutedRequest) error {
	w.inboundMu.RLock()
	defer w.inboundMu.RUnlock()
	if w.inboundClosed {
		return models.ErrWorkerUnavailable
	}

	select {
	case <-w.done:
		return models.ErrWorkerUnavailable
	default:
	}

	select {
	case w.inbound <- req:
		return nil
	case <-w.closing:
		return models.ErrWorkerUnavailable
	case <-w.done:
		return models.ErrWorkerUnavailable
	case <-ctx.Done():
		return models.ErrConnectionLost
	}
}

// recordOutcome stores the worker's single terminal outcome. It returns true
// for the call that won, false if an outcome was already recorded.
func (w *worker) recordOutcome(o models.Outcome) bool {
	won := false
	w.outcomeOnce.Do(func() {
		w.outcome = o
		close(w.done)
		won = true
	})
	return won
}

// Done is closed once the terminal outcome is recorded.
func (w *worker) Done() <-chan struct{} { return w.done }

// Outcome must only be read after Done is closed.
func (w *worker) Outcome() models.Outcome { return w.outcome }

// queued is a point-in-time view of the inbound backlog.
func (w *worker) queued() int { return len(w.inbound) }
