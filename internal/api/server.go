// Package api provides the read-only status HTTP server.
//
// It exposes the session state, the discovered device map, and the
// discovery failure record for monitoring. There is no write surface: the
// bridge is driven by configuration, not by this API.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: all methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/bridge"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StatusSource reports the bridge's current state.
// Implemented by *bridge.Bridge.
type StatusSource interface {
	Status() bridge.Status
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Source  StatusSource
	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	source  StatusSource
	version string
	server  *http.Server
}

// New creates a status server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("status source is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger.With("component", "api"),
		source:  deps.Source,
		version: deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
