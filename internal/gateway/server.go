package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// Status represents the server lifecycle status.
type Status int32

const (
	// StatusStopped indicates the server is stopped.
	StatusStopped Status = iota
	// StatusStarting indicates the server is starting.
	StatusStarting
	// StatusRunning indicates the server is running.
	StatusRunning
	// StatusStopping indicates the server is draining.
	StatusStopping
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// maxHeaderBytes bounds inbound request headers.
const maxHeaderBytes = 1 << 20

// Server serves a State over HTTP.
type Server struct {
	state     *State
	server    *http.Server
	listener  net.Listener
	status    atomic.Int32
	startTime time.Time
	done      chan struct{}
	serveErr  error
	mu        sync.Mutex
}

// NewServer creates a server for state using the configured address and
// timeouts.
func NewServer(state *State) *Server {
	sc := state.Config.Server
	s := &Server{
		state: state,
		server: &http.Server{
			Addr:              sc.Address,
			Handler:           state.Handler(),
			ReadTimeout:       sc.ReadTimeout.Duration(),
			ReadHeaderTimeout: sc.ReadHeaderTimeout.Duration(),
			WriteTimeout:      sc.WriteTimeout.Duration(),
			IdleTimeout:       sc.IdleTimeout.Duration(),
			MaxHeaderBytes:    maxHeaderBytes,
		},
		done: make(chan struct{}),
	}
	s.status.Store(int32(StatusStopped))
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(StatusStopped), int32(StatusStarting)) {
		return errors.New("server is not in stopped state")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		s.status.Store(int32(StatusStopped))
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.startTime = time.Now()
	s.status.Store(int32(StatusRunning))

	s.state.Logger.Info("gateway listening",
		observability.String("address", ln.Addr().String()),
		observability.Int("routes", len(s.state.Routes.Routes())),
	)

	go s.serve(ln)

	return nil
}

func (s *Server) serve(ln net.Listener) {
	defer close(s.done)

	err := s.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.state.Logger.Error("server error", observability.Error(err))
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
	}
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed when the server stops serving.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the server unexpectedly.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop drains the server: readiness turns unhealthy, new connections are
// refused and in-flight requests finish until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(StatusRunning), int32(StatusStopping)) {
		return errors.New("server is not running")
	}

	s.state.Health.SetDraining(true)
	s.state.Logger.Info("gateway draining",
		observability.Duration("uptime", s.Uptime()),
	)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.state.Config.Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	err := s.server.Shutdown(ctx)
	if err != nil {
		if closeErr := s.server.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		err = fmt.Errorf("failed to shutdown gracefully: %w", err)
	}

	<-s.done
	s.status.Store(int32(StatusStopped))
	s.state.Logger.Info("gateway stopped")

	return err
}

// Status returns the current lifecycle status.
func (s *Server) Status() Status {
	return Status(s.status.Load())
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
