// Package qjs implements the execution engine on the QuickJS runtime. A
// worker's service is an entry script that defines a global
// `handle(request)` function returning `{status, headers, body}`.
package qjs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/isoserve/isoserve/api/agent/engine"
	"github.com/isoserve/isoserve/api/models"
	"modernc.org/quickjs"
)

// DefaultEntrypoint is used when the service spec does not name one.
const DefaultEntrypoint = "index.js"

// Factory builds one QuickJS VM per worker.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) CreateEngine(ctx context.Context, spec *models.ServiceSpec) (engine.Engine, error) {
	entry := spec.Entrypoint
	if entry == "" {
		entry = DefaultEntrypoint
	}
	src, err := os.ReadFile(filepath.Join(spec.Path, filepath.Clean(entry)))
	if err != nil {
		return nil, fmt.Errorf("reading service entrypoint: %w", err)
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}

	e := &Engine{vm: vm}
	if err := e.boot(string(src), spec.Env); err != nil {
		vm.Close()
		return nil, err
	}
	return e, nil
}

func (f *Factory) Close() error { return nil }

// Engine is a single QuickJS VM serving one worker's requests sequentially.
type Engine struct {
	vm  *quickjs.VM
	cpu int64 // nanoseconds, read via CPUTime
}

func (e *Engine) boot(src string, env map[string]string) error {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding service env: %w", err)
	}
	if _, err := e.vm.Eval(fmt.Sprintf("globalThis.__env = %s;", envJSON), quickjs.EvalGlobal); err != nil {
		return fmt.Errorf("installing service env: %w", err)
	}

	v, err := e.vm.EvalValue(src, quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("evaluating service script: %w", err)
	}
	v.Free()

	ok, err := e.vm.Eval(`typeof handle === "function"`, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	if b, _ := ok.(bool); !b {
		return fmt.Errorf("service script does not define a handle function")
	}
	return nil
}

func (e *Engine) Run(ctx context.Context, inbound <-chan *models.RoutedRequest) error {
	defer e.vm.Close()

	for {
		select {
		case <-ctx.Done():
			return engine.ErrExecutionTerminated
		case req, ok := <-inbound:
			if !ok {
				return nil
			}
			if req.Conn != nil && req.Conn.State() == models.ConnClosed {
				// caller already went away, skip the script entirely
				req.Fail(models.ErrConnectionLost)
				continue
			}
			if err := e.serve(req); err != nil {
				// a script-level throw escapes the run loop, the request it
				// cut off is failed by the pool when the worker retires
				return err
			}
		}
	}
}

// jsRequest is the shape handed to the script's handle function.
type jsRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// jsResponse is the shape expected back from handle.
type jsResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (e *Engine) serve(req *models.RoutedRequest) error {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&e.cpu, int64(time.Since(start)))
	}()

	jreq := jsRequest{
		Method:  req.Req.Method,
		URL:     req.Req.URL.String(),
		Headers: make(map[string]string, len(req.Req.Header)),
	}
	for k := range req.Req.Header {
		jreq.Headers[k] = req.Req.Header.Get(k)
	}
	if req.Req.Body != nil {
		b, err := io.ReadAll(req.Req.Body)
		if err != nil {
			req.Fail(models.ErrConnectionLost)
			return nil
		}
		jreq.Body = string(b)
	}

	payload, err := json.Marshal(jreq)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	out, err := e.vm.Eval(fmt.Sprintf(`JSON.stringify(handle(%s) || {})`, payload), quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("handle threw: %w", err)
	}

	raw, _ := out.(string)
	var jresp jsResponse
	if err := json.Unmarshal([]byte(raw), &jresp); err != nil {
		return fmt.Errorf("decoding handle result: %w", err)
	}
	if jresp.Status == 0 {
		jresp.Status = http.StatusOK
	}

	hdr := make(http.Header, len(jresp.Headers))
	for k, v := range jresp.Headers {
		hdr.Set(k, v)
	}
	req.Reply(&models.Response{
		Status: jresp.Status,
		Header: hdr,
		Body:   []byte(jresp.Body),
	})
	return nil
}

// CPUTime approximates CPU usage with the wall time spent inside handle
// evaluations, the VM runs a single cooperative thread so the two track
// closely.
func (e *Engine) CPUTime() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.cpu))
}
