package models

import (
	"net/http"
	"sync"
)

// Response is the engine-computed answer to a single routed request.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Disposition is the terminal result of a routed request, exactly one of
// Resp or Err is set.
type Disposition struct {
	Resp *Response
	Err  error
}

// RoutedRequest is one HTTP-level request paired with its single-use
// disposition channel and an optional connection liveness watch. It is what
// the router delivers onto a worker's inbound channel and what the execution
// engine consumes.
type RoutedRequest struct {
	ID   string
	Req  *http.Request
	Conn *ConnWatch // nil when the connection exposes no liveness signal

	once     sync.Once
	disp     chan Disposition
	resolved chan struct{}
	observe  func(Disposition)
}

func NewRoutedRequest(id string, req *http.Request, conn *ConnWatch) *RoutedRequest {
	return &RoutedRequest{
		ID:       id,
		Req:      req,
		Conn:     conn,
		disp:     make(chan Disposition, 1),
		resolved: make(chan struct{}),
	}
}

// Reply resolves the request with a response. Only the first of
// Reply/Fail wins, later calls are no-ops.
func (r *RoutedRequest) Reply(resp *Response) {
	r.resolve(Disposition{Resp: resp})
}

// Fail resolves the request with a delivery failure.
func (r *RoutedRequest) Fail(err error) {
	r.resolve(Disposition{Err: err})
}

func (r *RoutedRequest) resolve(d Disposition) {
	r.once.Do(func() {
		r.disp <- d
		if r.observe != nil {
			r.observe(d)
		}
		close(r.resolved)
	})
}

// Observe registers a callback invoked exactly once, when the request
// resolves. It must be set before the request is handed to a worker.
func (r *RoutedRequest) Observe(fn func(Disposition)) { r.observe = fn }

// Resolved is closed once the request has a disposition.
func (r *RoutedRequest) Resolved() <-chan struct{} { return r.resolved }

// Disposition returns the receive side of the single-use result channel.
// Callers must select on this together with the owning worker's done signal
// so an abandoned request fails instead of hanging.
func (r *RoutedRequest) Disposition() <-chan Disposition {
	return r.disp
}

// ServiceSpec is the state needed to instantiate an execution engine for a
// worker, opaque to the supervisor.
type ServiceSpec struct {
	// Path to the service's root directory.
	Path string `yaml:"path" json:"path"`
	// Entrypoint within Path, resolved by the engine when empty.
	Entrypoint string `yaml:"entrypoint" json:"entrypoint"`
	// Env is passed through to the script environment.
	Env map[string]string `yaml:"env" json:"env,omitempty"`
	// NoModuleCache disables engine-side module caching.
	NoModuleCache bool `yaml:"no_module_cache" json:"no_module_cache"`
}
