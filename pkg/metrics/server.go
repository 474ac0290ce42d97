package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/subgen/pkg/logging"
)

// StateFunc returns a JSON-encodable snapshot of the tracked job
type StateFunc func() interface{}

// HealthFunc reports whether the client's dependencies are usable
type HealthFunc func(ctx context.Context) error

// ServerOptions configures the routes and error reporting of Server
type ServerOptions struct {
	State  StateFunc
	Health HealthFunc
	Logger *logging.Logger
}

const healthTimeout = 2 * time.Second

// Server exposes /metrics, /healthz and /state on a local address while a job is followed
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewRouter builds the routes served by Server
func NewRouter(c *Collector, opts ServerOptions) *mux.Router {
	state := opts.State
	r := mux.NewRouter()
	r.Handle("/metrics", c.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods("GET")
	r.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if state == nil {
			w.Write([]byte("{}\n"))
			return
		}
		if err := json.NewEncoder(w).Encode(state()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods("GET")
	return r
}

// Listen binds addr and starts serving in the background
func Listen(addr string, c *Collector, opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           NewRouter(c, opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", logging.Fields{"error": err.Error()})
		}
	}()

	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
