package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/isoserve/isoserve/api/agent/engine/mock"
	"github.com/isoserve/isoserve/api/models"
)

func testConfig(mode PolicyMode, max int) *Config {
	return &Config{
		Policy:               NewPoolPolicy(mode, max, 0),
		GracefulExitDeadline: 5 * time.Second,
		InboundBuffer:        16,
		Service:              models.ServiceSpec{Path: "testdata/svc"},
		OutcomeHistoryTTL:    time.Minute,
	}
}

func newTestAgent(t *testing.T, cfg *Config, f *mock.Factory) Agent {
	t.Helper()
	a, err := New(cfg, f)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func submitReq(t *testing.T, a Agent, id string) *models.RoutedRequest {
	t.Helper()
	hreq := httptest.NewRequest(http.MethodGet, "/", nil)
	req := models.NewRoutedRequest(id, hreq, nil)
	if err := a.Submit(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	return req
}

func waitDisposition(t *testing.T, req *models.RoutedRequest) models.Disposition {
	t.Helper()
	select {
	case d := <-req.Disposition():
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("request never resolved")
		return models.Disposition{}
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	f := mock.NewFactory()
	a := newTestAgent(t, testConfig(PolicyPerWorker, 2), f)

	req := submitReq(t, a, "r1")
	d := waitDisposition(t, req)
	if d.Err != nil {
		t.Fatal(d.Err)
	}
	if d.Resp.Status != 200 || string(d.Resp.Body) != `{"passed":true}` {
		t.Fatalf("unexpected response: %d %s", d.Resp.Status, d.Resp.Body)
	}
}

func TestPerWorkerReusesOneWorker(t *testing.T) {
	f := mock.NewFactory()
	a := newTestAgent(t, testConfig(PolicyPerWorker, 4), f)

	for i := 0; i < 5; i++ {
		d := waitDisposition(t, submitReq(t, a, "r"))
		if d.Err != nil {
			t.Fatal(d.Err)
		}
	}
	if n := len(f.Engines()); n != 1 {
		t.Fatalf("per_worker created %d engines, want 1", n)
	}
}

func TestPerRequestCreatesFreshWorkers(t *testing.T) {
	f := mock.NewFactory()
	a := newTestAgent(t, testConfig(PolicyPerRequest, 4), f)

	for i := 0; i < 3; i++ {
		d := waitDisposition(t, submitReq(t, a, "r"))
		if d.Err != nil {
			t.Fatal(d.Err)
		}
	}
	if n := len(f.Engines()); n != 3 {
		t.Fatalf("per_request created %d engines, want 3", n)
	}
}

func TestBootFailureSurfacesToCaller(t *testing.T) {
	f := mock.NewFactory()
	f.BootErr = errors.New("missing entrypoint")
	a := newTestAgent(t, testConfig(PolicyPerWorker, 1), f)

	hreq := httptest.NewRequest(http.MethodGet, "/", nil)
	req := models.NewRoutedRequest("r1", hreq, nil)
	err := a.Submit(context.Background(), req)
	if err != nil {
		// the worker may die before the request lands on it
		if err != models.ErrServiceBootFailure {
			t.Fatalf("got %v, want ErrServiceBootFailure", err)
		}
		return
	}
	d := waitDisposition(t, req)
	if d.Err != models.ErrServiceBootFailure {
		t.Fatalf("got %v, want ErrServiceBootFailure", d.Err)
	}
}

func TestCrashFailsInFlightRequest(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.RunErr = errors.New("oom") }
	a := newTestAgent(t, testConfig(PolicyPerWorker, 1), f)

	req := submitReq(t, a, "r1")
	d := waitDisposition(t, req)
	if d.Err != models.ErrServiceFailure {
		t.Fatalf("got %v, want ErrServiceFailure", d.Err)
	}
}

func TestOneshotExhaustion(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.RunErr = errors.New("segfault") }
	a := newTestAgent(t, testConfig(PolicyOneshot, 1), f)

	req := submitReq(t, a, "r1")
	waitDisposition(t, req)

	// the single worker is spent, every later submission is rejected
	deadline := time.Now().Add(5 * time.Second)
	for {
		hreq := httptest.NewRequest(http.MethodGet, "/", nil)
		err := a.Submit(context.Background(), models.NewRoutedRequest("r2", hreq, nil))
		if err == models.ErrPoolExhausted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool never reported exhaustion, last err: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestWaitTimeout(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = time.Minute }
	cfg := testConfig(PolicyPerRequest, 1)
	cfg.Policy.RequestWaitTimeout = 50 * time.Millisecond
	cfg.GracefulExitDeadline = 0 // the stuck worker would stall cleanup
	a := newTestAgent(t, cfg, f)

	submitReq(t, a, "r1") // occupies the only slot for a minute

	// wait for the first request to actually hold the worker
	time.Sleep(20 * time.Millisecond)

	hreq := httptest.NewRequest(http.MethodGet, "/", nil)
	err := a.Submit(context.Background(), models.NewRoutedRequest("r2", hreq, nil))
	if err != models.ErrRequestWaitTimeout {
		t.Fatalf("got %v, want ErrRequestWaitTimeout", err)
	}
}

func TestParallelismNeverOvershoots(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = 50 * time.Millisecond }
	cfg := testConfig(PolicyPerRequest, 2)
	cfg.Policy.RequestWaitTimeout = 5 * time.Second
	a := newTestAgent(t, cfg, f)

	var reqs []*models.RoutedRequest
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 8; i++ {
			reqs = append(reqs, submitReq(t, a, "r"))
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("submissions hung")
	}
	for _, req := range reqs {
		if d := waitDisposition(t, req); d.Err != nil {
			t.Fatal(d.Err)
		}
	}

	ag := a.(*agent)
	ag.pool.mu.Lock()
	live := len(ag.pool.workers)
	ag.pool.mu.Unlock()
	if live > 2 {
		t.Fatalf("pool overshot max parallelism: %d live workers", live)
	}
}

func TestGracefulShutdownLetsInFlightFinish(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = 100 * time.Millisecond }
	cfg := testConfig(PolicyPerWorker, 1)
	cfg.GracefulExitDeadline = 5 * time.Second
	a := newTestAgent(t, cfg, f)

	req := submitReq(t, a, "r1")
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	d := waitDisposition(t, req)
	if d.Err != nil {
		t.Fatalf("in-flight request cut during graceful shutdown: %v", d.Err)
	}
}

func TestZeroDeadlineKillsImmediately(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = time.Minute }
	cfg := testConfig(PolicyPerWorker, 1)
	cfg.GracefulExitDeadline = 0
	a := newTestAgent(t, cfg, f)

	req := submitReq(t, a, "r1")
	time.Sleep(20 * time.Millisecond) // let the engine pick it up

	start := time.Now()
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("zero-deadline close took %s", elapsed)
	}

	d := waitDisposition(t, req)
	if d.Err == nil {
		t.Fatal("request should have been failed by the forced shutdown")
	}
}

func TestCloseBoundedWithParkedSubmission(t *testing.T) {
	// one request in flight on a stuck engine, one filling the inbound
	// buffer, and one parked inside Submit on the full channel. Close must
	// still return within the grace deadline and resolve all three.
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = time.Hour }
	cfg := testConfig(PolicyPerWorker, 1)
	cfg.InboundBuffer = 1
	cfg.GracefulExitDeadline = 100 * time.Millisecond
	a := newTestAgent(t, cfg, f)

	r1 := submitReq(t, a, "r1")
	time.Sleep(20 * time.Millisecond) // engine picks up r1
	r2 := submitReq(t, a, "r2")       // fills the buffer

	r3 := models.NewRoutedRequest("r3", httptest.NewRequest(http.MethodGet, "/", nil), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- a.Submit(context.Background(), r3) }()
	time.Sleep(20 * time.Millisecond) // r3 parks on the full inbound channel

	start := time.Now()
	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung past the graceful-exit deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("close took %s", elapsed)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("parked submission should have been rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("parked submission never released")
	}
	for _, req := range []*models.RoutedRequest{r1, r2} {
		if d := waitDisposition(t, req); d.Err == nil {
			t.Fatalf("request %s should have been failed by shutdown", req.ID)
		}
	}
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	f := mock.NewFactory()
	a := newTestAgent(t, testConfig(PolicyPerWorker, 1), f)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	hreq := httptest.NewRequest(http.MethodGet, "/", nil)
	err := a.Submit(context.Background(), models.NewRoutedRequest("r1", hreq, nil))
	if err != models.ErrServerShuttingDown {
		t.Fatalf("got %v, want ErrServerShuttingDown", err)
	}
}

func TestAdmissionRateLimit(t *testing.T) {
	f := mock.NewFactory()
	cfg := testConfig(PolicyPerWorker, 1)
	cfg.AdmissionRate = 1
	cfg.AdmissionBurst = 1
	a := newTestAgent(t, cfg, f)

	waitDisposition(t, submitReq(t, a, "r1"))

	hreq := httptest.NewRequest(http.MethodGet, "/", nil)
	err := a.Submit(context.Background(), models.NewRoutedRequest("r2", hreq, nil))
	if err != models.ErrTooBusy {
		t.Fatalf("got %v, want ErrTooBusy", err)
	}
}

func TestWallClockLimitTerminatesWorker(t *testing.T) {
	f := mock.NewFactory()
	f.Configure = func(e *mock.Engine) { e.Delay = time.Minute }
	cfg := testConfig(PolicyPerWorker, 1)
	cfg.WallClockLimit = 50 * time.Millisecond
	cfg.GracefulExitDeadline = 0
	a := newTestAgent(t, cfg, f)

	req := submitReq(t, a, "r1")
	d := waitDisposition(t, req)
	if d.Err == nil {
		t.Fatal("request survived its worker's wall clock limit")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if a.Stats().Outcomes["terminated"] >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminated outcome recorded: %+v", a.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchServiceRecyclesWorkers(t *testing.T) {
	dir := t.TempDir()
	f := mock.NewFactory()
	cfg := testConfig(PolicyPerWorker, 2)
	cfg.Service.Path = dir
	cfg.WatchService = true
	a := newTestAgent(t, cfg, f)

	waitDisposition(t, submitReq(t, a, "r1"))
	if n := len(f.Engines()); n != 1 {
		t.Fatalf("engines after first request: %d", n)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("// v2"), 0644); err != nil {
		t.Fatal(err)
	}

	// the watcher debounces, then terminates the reusable worker; the next
	// request gets a fresh one
	deadline := time.Now().Add(10 * time.Second)
	for {
		st := a.Stats()
		if st.Outcomes["terminated"] >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never recycled: %+v", st)
		}
		time.Sleep(20 * time.Millisecond)
	}

	d := waitDisposition(t, submitReq(t, a, "r2"))
	if d.Err != nil {
		t.Fatal(d.Err)
	}
	if n := len(f.Engines()); n != 2 {
		t.Fatalf("engines after recycle: %d, want 2", n)
	}
}

func TestStatsCountOutcomes(t *testing.T) {
	f := mock.NewFactory()
	a := newTestAgent(t, testConfig(PolicyPerRequest, 2), f)

	waitDisposition(t, submitReq(t, a, "r1"))
	waitDisposition(t, submitReq(t, a, "r2"))

	// per_request workers retire after their one request
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := a.Stats()
		if st.Complete == 2 && st.Outcomes["completed"] == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats never settled: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	workers := a.Workers()
	retired := 0
	for _, w := range workers {
		if !w.Live && w.Outcome == "completed" {
			retired++
		}
	}
	if retired != 2 {
		t.Fatalf("worker history missing retired outcomes: %+v", workers)
	}
}
