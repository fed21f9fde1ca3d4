// Package mock provides a scriptable execution engine for tests.
package mock

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/isoserve/isoserve/api/agent/engine"
	"github.com/isoserve/isoserve/api/models"
)

// Factory hands out mock engines and remembers them for inspection.
type Factory struct {
	// BootErr, when set, fails every CreateEngine call.
	BootErr error
	// Configure, when set, is applied to each new engine before it is returned.
	Configure func(*Engine)

	mu      sync.Mutex
	engines []*Engine
}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) CreateEngine(ctx context.Context, spec *models.ServiceSpec) (engine.Engine, error) {
	if f.BootErr != nil {
		return nil, f.BootErr
	}
	e := &Engine{Spec: spec}
	if f.Configure != nil {
		f.Configure(e)
	}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func (f *Factory) Close() error { return nil }

// Engines returns every engine created so far.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.engines))
	copy(out, f.engines)
	return out
}

// Engine is a mock engine. The zero value answers every request with
// status 200 and body {"passed":true}.
type Engine struct {
	Spec *models.ServiceSpec

	// Handler serves one routed request. Defaults to DefaultHandler.
	Handler func(*models.RoutedRequest)
	// RunErr, when set, is returned from Run as soon as a request arrives,
	// leaving that request unresolved (like a crashing script would).
	RunErr error
	// Delay is slept before serving each request.
	Delay time.Duration
	// CPU is reported from CPUTime.
	CPU time.Duration

	mu     sync.Mutex
	served int
}

// DefaultHandler replies 200 {"passed":true} to any request.
func DefaultHandler(req *models.RoutedRequest) {
	req.Reply(&models.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"passed":true}`),
	})
}

func (e *Engine) Run(ctx context.Context, inbound <-chan *models.RoutedRequest) error {
	handler := e.Handler
	if handler == nil {
		handler = DefaultHandler
	}

	for {
		select {
		case <-ctx.Done():
			return engine.ErrExecutionTerminated
		case req, ok := <-inbound:
			if !ok {
				return nil
			}
			if e.RunErr != nil {
				return e.RunErr
			}
			if e.Delay > 0 {
				select {
				case <-time.After(e.Delay):
				case <-ctx.Done():
					return engine.ErrExecutionTerminated
				}
			}
			handler(req)
			e.mu.Lock()
			e.served++
			e.mu.Unlock()
		}
	}
}

func (e *Engine) CPUTime() time.Duration { return e.CPU }

// Served returns how many requests this engine answered.
func (e *Engine) Served() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.served
}
