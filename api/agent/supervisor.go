package agent

import (
	"context"
	"time"

	"github.com/isoserve/isoserve/api/agent/engine"
	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/models"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
)

// terminationReceiverWait bounds how long a terminated run waits for its
// authoritative outcome. Terminate sends before cancelling, so this only
// fires when an engine fabricates a terminated-looking error on its own,
// which is an internal contract break, not a user-facing condition.
const terminationReceiverWait = 5 * time.Second

// WorkerHandler classifies a worker's boot errors and drives its engine run
// loop to a single terminal outcome. Exactly one production implementation
// exists, the interface is kept so tests can substitute their own.
type WorkerHandler interface {
	// HandleBootError classifies a failure that occurred before the run
	// loop started.
	HandleBootError(ctx context.Context, err error) models.Outcome

	// HandleRun drives the engine over the inbound stream and classifies
	// why the run loop exited. It must always return a well-formed outcome,
	// never propagate a raw engine error.
	HandleRun(ctx context.Context, eng engine.Engine, inbound <-chan *models.RoutedRequest, term <-chan models.Outcome) models.Outcome
}

type defaultHandler struct{}

func (defaultHandler) HandleBootError(ctx context.Context, err error) models.Outcome {
	common.Logger(ctx).WithError(err).Error("worker failed to boot")
	return models.BootFailure{Msg: err.Error()}
}

func (defaultHandler) HandleRun(ctx context.Context, eng engine.Engine, inbound <-chan *models.RoutedRequest, term <-chan models.Outcome) models.Outcome {
	err := eng.Run(ctx, inbound)
	if err == nil {
		// the engine's internal loop drained normally
		return models.Completed{}
	}

	if engine.IsTerminated(err) {
		// we stopped it on purpose, the termination channel says why. The
		// sender is required to push the outcome before triggering the stop,
		// an empty receiver here is an invariant break and must abort the
		// process rather than be swallowed.
		select {
		case outcome := <-term:
			return outcome
		case <-time.After(terminationReceiverWait):
			logrus.WithError(err).Fatal("terminated run with no outcome on the termination channel")
			return nil // unreachable
		}
	}

	common.Logger(ctx).WithError(err).Error("engine escaped the run loop unexpectedly")
	return models.UncaughtException{Msg: err.Error()} // cpu time is back-filled by supervise
}

// supervisor drives exactly one worker from creation to a single terminal
// outcome.
type supervisor struct {
	factory engine.Factory
	handler WorkerHandler
}

// supervise owns the worker's execution context for the duration of the call
// and always returns a well-formed outcome, exactly once per worker.
func (s *supervisor) supervise(w *worker) models.Outcome {
	ctx, _ := common.LoggerWithFields(w.ctx, logrus.Fields{"worker_id": w.id, "role": w.role.String()})

	span, ctx := opentracing.StartSpanFromContext(ctx, "worker_supervise")
	defer span.Finish()

	eng, err := s.factory.CreateEngine(ctx, w.spec)
	if err != nil {
		// instantiation failures never reach the termination-receiver path
		return s.handler.HandleBootError(ctx, err)
	}

	outcome := s.handler.HandleRun(ctx, eng, w.inbound, w.termCh)

	// finalize resource accounting for the worker
	if ue, ok := outcome.(models.UncaughtException); ok && ue.CPUTimeUsed == 0 {
		ue.CPUTimeUsed = eng.CPUTime()
		outcome = ue
	}
	return outcome
}
