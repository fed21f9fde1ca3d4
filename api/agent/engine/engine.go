// Package engine defines the contract between the worker supervisor and the
// script execution engine that actually runs user code. The serving engine
// never interprets scripts itself, it only drives Run and classifies how it
// ended.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/isoserve/isoserve/api/models"
)

// TerminatedMessage is the fixed substring an engine's Run error must carry
// when the loop was deliberately stopped rather than failing on its own.
const TerminatedMessage = "execution terminated"

// ErrExecutionTerminated is the canonical deliberate-stop error.
var ErrExecutionTerminated = errors.New(TerminatedMessage)

// IsTerminated reports whether err marks a deliberately stopped run.
func IsTerminated(err error) bool {
	return err != nil && strings.Contains(err.Error(), TerminatedMessage)
}

// Engine runs a worker's script against its inbound request stream.
// Implementations are single-threaded-cooperative internally and must not be
// invoked from more than one goroutine concurrently for the same worker; the
// supervisor's exclusive ownership of the worker guarantees this.
type Engine interface {
	// Run consumes inbound until the stream is exhausted (nil return) or a
	// fatal error occurs. A deliberate stop, observed via ctx, must be
	// reported with an error satisfying IsTerminated.
	Run(ctx context.Context, inbound <-chan *models.RoutedRequest) error

	// CPUTime returns the accumulated CPU time attributed to this engine,
	// zero if the implementation keeps no accounting.
	CPUTime() time.Duration
}

// Factory instantiates engines for new workers.
type Factory interface {
	// CreateEngine builds an engine ready to Run the given service. Errors
	// here are boot failures, the run loop never started.
	CreateEngine(ctx context.Context, spec *models.ServiceSpec) (Engine, error)

	// Close releases any factory-wide resources.
	Close() error
}
