package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/usbroles/internal/infrastructure/config"
	"github.com/nerrad567/usbroles/internal/infrastructure/logging"
	"github.com/nerrad567/usbroles/internal/usb"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ScanStatsProvider exposes poll scanner counters.
type ScanStatsProvider interface {
	Stats() usb.ScanStats
}

// ListenerStatsProvider exposes event listener counters.
type ListenerStatsProvider interface {
	Stats() usb.ListenerStats
}

// MQTTStatus reports the state of the MQTT connection.
type MQTTStatus interface {
	IsConnected() bool
	SubscriptionCount() int
}

// DBStatsProvider exposes connection pool statistics.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	State    *usb.State

	// Optional components. Nil disables the matching endpoint or metric.
	Scanner  ScanStatsProvider
	Listener ListenerStatsProvider
	History  usb.SightingRepository
	MQTT     MQTTStatus
	DB       DBStatsProvider
	Index    http.Handler

	// OnRulesChanged is called after a rule replacement was persisted.
	OnRulesChanged func()

	Version string
}

// Server is the HTTP API server for usbroles.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	state          *usb.State
	scanner        ScanStatsProvider
	listener       ListenerStatsProvider
	history        usb.SightingRepository
	mqtt           MQTTStatus
	db             DBStatsProvider
	index          http.Handler
	onRulesChanged func()
	version        string
	startTime      time.Time
	server         *http.Server
	hub            *Hub
	cancel         context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the WebSocket hub
// exists immediately so BroadcastDevices can be wired before start-up.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil || deps.State.Registry == nil || deps.State.Rules == nil {
		return nil, fmt.Errorf("state with registry and rules is required")
	}

	return &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		state:          deps.State,
		scanner:        deps.Scanner,
		listener:       deps.Listener,
		history:        deps.History,
		mqtt:           deps.MQTT,
		db:             deps.DB,
		index:          deps.Index,
		onRulesChanged: deps.OnRulesChanged,
		version:        deps.Version,
		startTime:      time.Now(),
		hub:            NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// BroadcastDevices pushes the current device views to WebSocket clients.
// It is safe to call from any goroutine and never blocks on slow clients.
func (s *Server) BroadcastDevices() {
	if s.hub.ClientCount() == 0 {
		return
	}
	s.hub.Broadcast(ChannelDevices, s.state.Views())
}

// authEnabled reports whether bearer tokens are enforced.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}
