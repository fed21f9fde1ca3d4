package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/isoserve/isoserve/api/agent"
	"github.com/isoserve/isoserve/api/agent/engine"
	"github.com/isoserve/isoserve/api/agent/engine/qjs"
	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/id"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

const (
	// EnvPort is the port to run the http server on
	EnvPort = "ISO_PORT"
	// EnvLogLevel is the log level
	EnvLogLevel = "ISO_LOG_LEVEL"
	// EnvLogFormat is text or json
	EnvLogFormat = "ISO_LOG_FORMAT"
	// EnvLogDest is a syslog url to mirror logs to
	EnvLogDest = "ISO_LOG_DEST"
	// EnvCORSOrigins is a comma separated list of allowed origins
	EnvCORSOrigins = "ISO_CORS_ORIGINS"
	// EnvCORSHeaders is a comma separated list of allowed headers
	EnvCORSHeaders = "ISO_CORS_HEADERS"
	// EnvMaxRequestSize is the maximum request body size in bytes, 0 is unlimited
	EnvMaxRequestSize = "ISO_MAX_REQUEST_SIZE"
	// EnvMaxConns caps simultaneous accepted connections, 0 is unlimited
	EnvMaxConns = "ISO_MAX_CONNS"
	// EnvTLSCert is a path to a PEM certificate, enables TLS with EnvTLSKey
	EnvTLSCert = "ISO_TLS_CERT"
	// EnvTLSKey is a path to a PEM key
	EnvTLSKey = "ISO_TLS_KEY"

	DefaultPort     = 8080
	DefaultLogLevel = "info"

	// httpDrainTimeout bounds how long Start waits for open http
	// connections after the listener stops accepting
	httpDrainTimeout = 30 * time.Second
)

// opencensus views register once per process, tests construct many servers
var apiViewsOnce sync.Once

// Server binds the agent to an http surface.
type Server struct {
	Router *gin.Engine
	Agent  agent.Agent

	port     int
	maxConns int
	tlsCert  string
	tlsKey   string

	// requests admitted to the http layer, drained before the agent closes
	webWg *common.WaitGroup
}

// New creates a server serving the given agent. Options run in order after
// the core middleware and routes are installed.
func New(ctx context.Context, ag agent.Agent, options ...Option) (*Server, error) {
	apiViewsOnce.Do(RegisterAPIViews)

	r := gin.New()
	s := &Server{
		Router: r,
		Agent:  ag,
		port:   common.GetEnvInt(EnvPort, DefaultPort),
		webWg:  common.NewWaitGroup(),
	}

	r.Use(panicWrap)
	r.Use(withRIDProvider(DefaultRIDProvider()))
	r.Use(loggerWrap)
	r.Use(traceWrap)
	r.Use(apiMetricsWrap)
	optionalCorsWrap(r)

	if max := common.GetEnvInt(EnvMaxRequestSize, 0); max > 0 {
		r.Use(limitRequestBody(int64(max)))
	}
	s.maxConns = common.GetEnvInt(EnvMaxConns, 0)
	s.tlsCert = common.GetEnv(EnvTLSCert, "")
	s.tlsKey = common.GetEnv(EnvTLSKey, "")

	s.bindHandlers()

	for _, option := range options {
		if err := option(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewFromEnv builds the whole stack, config, engine factory, agent and
// server, from environment variables.
func NewFromEnv(ctx context.Context, options ...Option) (*Server, error) {
	common.SetLogLevel(common.GetEnv(EnvLogLevel, DefaultLogLevel))
	common.SetLogFormat(common.GetEnv(EnvLogFormat, "text"))
	if dest := common.GetEnv(EnvLogDest, ""); dest != "" {
		common.SetLogDest(dest, "isoserve")
	}

	cfg, err := agent.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	var factory engine.Factory = qjs.NewFactory()
	ag, err := agent.New(cfg, factory)
	if err != nil {
		return nil, err
	}
	return New(ctx, ag, options...)
}

func (s *Server) bindHandlers() {
	admin := s.Router.Group("/v1")
	admin.GET("/health", s.handleHealth)
	admin.GET("/version", s.handleVersion)
	admin.GET("/stats", s.handleStats)
	admin.GET("/workers", s.handleWorkers)
	s.Router.GET("/metrics", gin.WrapH(s.Agent.PromHandler()))

	// everything else is routed to the service
	s.Router.NoRoute(s.handleInvoke)
}

// Start serves until the context is cancelled or a terminating signal
// arrives, then drains open connections and closes the agent.
func (s *Server) Start(ctx context.Context) {
	ctx, halt := contextWithSignal(ctx, os.Interrupt, syscall.SIGTERM)
	defer halt()

	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithError(err).Fatal("server failed to listen")
	}
	seedMachineID(listener.Addr())
	if s.maxConns > 0 {
		listener = netutil.LimitListener(listener, s.maxConns)
	}

	srv := &http.Server{
		Handler: s.Router,
		BaseContext: func(net.Listener) context.Context {
			return common.WithLogger(context.Background(), logrus.StandardLogger())
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{"addr": addr, "tls": s.tlsCert != ""}).Info("server listening")
		if s.tlsCert != "" {
			errCh <- srv.ServeTLS(listener, s.tlsCert, s.tlsKey)
		} else {
			errCh <- srv.Serve(listener)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logrus.WithError(err).Error("error draining http connections")
	}
	s.webWg.CloseGroup()

	if err := s.Agent.Close(); err != nil {
		logrus.WithError(err).Error("error closing agent")
	}
	logrus.Info("server stopped")
}

// seedMachineID folds the bound address into generated ids so that workers
// and requests from different hosts cannot collide. Must run before the
// first id is generated, which is why Start seeds right after binding.
func seedMachineID(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	ip := tcp.IP.To4()
	if ip == nil {
		ip = net.IP{127, 0, 0, 1}
	}
	id.SetMachineIDHost(ip, uint16(tcp.Port))
}

func contextWithSignal(ctx context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	newCtx, halt := context.WithCancel(ctx)
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	go func() {
		select {
		case sig := <-c:
			logrus.WithFields(logrus.Fields{"signal": sig.String()}).Info("halting")
		case <-newCtx.Done():
			signal.Stop(c)
			halt()
			return
		}
		halt()
		// a second signal skips the grace period entirely
		if sig, ok := <-c; ok {
			logrus.WithFields(logrus.Fields{"signal": sig.String()}).Fatal("forced exit")
		}
	}()
	return newCtx, halt
}
