package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/agent"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/journal"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/scheduler"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	writeTimeout            = 10 * time.Second
	healthCheckTimeout      = 3 * time.Second
)

// Pipeline is the agent as seen by the API. *agent.Agent satisfies it.
type Pipeline interface {
	Stats() agent.Stats
	Variables() []scheduler.Info
}

// JournalReader is the read side of the journal. *journal.Journal
// satisfies it.
type JournalReader interface {
	Session() journal.Session
	Deliveries(ctx context.Context, f journal.Filter) ([]journal.Delivery, error)
	Events(ctx context.Context, f journal.Filter) ([]journal.EventRecord, error)
}

// HealthCheck is a named dependency probe.
type HealthCheck func(ctx context.Context) error

// Deps holds what the server reports on.
type Deps struct {
	Addr     string
	Pipeline Pipeline
	Metrics  *Metrics
	Journal  JournalReader // optional
	Checks   map[string]HealthCheck
	Logger   telemetry.Logger
	Version  string
}

// Server is the diagnostics HTTP server.
type Server struct {
	addr     string
	pipeline Pipeline
	metrics  *Metrics
	journal  JournalReader
	checks   map[string]HealthCheck
	logger   telemetry.Logger
	version  string
	started  time.Time

	server   *http.Server
	listener net.Listener
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("diagnostics: pipeline is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	deps.Metrics.Attach(deps.Pipeline)
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger{}
	}
	return &Server{
		addr:     deps.Addr,
		pipeline: deps.Pipeline,
		metrics:  deps.Metrics,
		journal:  deps.Journal,
		checks:   deps.Checks,
		logger:   deps.Logger,
		version:  deps.Version,
		started:  time.Now(),
	}, nil
}

// Start binds the listener and serves in the background. A bind failure
// is returned immediately.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("diagnostics: listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server error", "error", err)
		}
	}()

	s.logger.Info("diagnostics server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down diagnostics server: %w", err)
	}
	return nil
}
