package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"smc-engine/config"
	"smc-engine/internal/analysis"
	"smc-engine/internal/auth"
	"smc-engine/internal/bot"
	"smc-engine/internal/database"
	"smc-engine/internal/engine"
	"smc-engine/internal/events"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
)

// EngineAPI is what the server needs from the runner
type EngineAPI interface {
	Instruments() []market.Instrument
	Latest(inst market.Instrument) (*engine.Snapshot, bool)
	Zones(ctx context.Context, inst market.Instrument, status analysis.ZoneStatus) ([]analysis.Zone, error)
	MarkTraded(ctx context.Context, inst market.Instrument, id analysis.ZoneID) error
	Policies(ctx context.Context, inst market.Instrument) ([]bot.PolicyInfo, error)
	SetPolicyEnabled(ctx context.Context, inst market.Instrument, name string, on bool) error
}

// SnapshotStore serves snapshots cached by an earlier process
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, inst market.Instrument) (*engine.Snapshot, error)
	Instruments(ctx context.Context) ([]market.Instrument, error)
	Ping(ctx context.Context) error
}

// HealthChecker is any dependency that can report its own health, such as Vault
type HealthChecker interface {
	Health(ctx context.Context) error
}

// SignalJournal serves journaled signals
type SignalJournal interface {
	RecentSignals(ctx context.Context, inst market.Instrument, limit int) ([]database.SignalRecord, error)
	ZoneHistory(ctx context.Context, inst market.Instrument, id analysis.ZoneID) ([]database.ZoneEventRecord, error)
	HealthCheck(ctx context.Context) error
}

// Options wires optional collaborators. Nil fields disable the routes or
// health checks that depend on them.
type Options struct {
	Bus     *events.EventBus
	Cache   SnapshotStore
	Journal SignalJournal
	// Secrets is checked by /health; a failure marks the service degraded
	Secrets HealthChecker
	JWT     *auth.JWTManager
	Metrics http.Handler
	// MetricsPath defaults to /metrics
	MetricsPath string
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     EngineAPI
	opts       Options
	config     config.ServerConfig
	hub        *WSHub
	hubOnce    sync.Once
	logger     *logging.Logger
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, eng EngineAPI, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	origins := cfg.Origins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", traceHeader}
	router.Use(cors.New(corsConfig))

	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		router:    router,
		engine:    eng,
		opts:      opts,
		config:    cfg,
		hub:       NewWSHub(),
		logger:    logging.WithComponent("api"),
		startedAt: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
	if s.opts.Metrics != nil {
		s.router.GET(s.opts.MetricsPath, gin.WrapH(s.opts.Metrics))
	}

	api := s.router.Group("/api")
	api.GET("/instruments", s.handleInstruments)
	api.GET("/cache/instruments", s.handleCachedInstruments)

	inst := api.Group("/instruments/:symbol/:tf")
	inst.GET("/snapshot", s.handleSnapshot)
	inst.GET("/zones", s.handleZones)
	inst.GET("/policies", s.handlePolicies)
	inst.GET("/signals", s.handleSignals)
	inst.GET("/zones/:id/history", s.handleZoneHistory)

	// Mutations require a token when auth is enabled.
	write := inst.Group("")
	if s.opts.JWT != nil {
		write.Use(auth.Middleware(s.opts.JWT))
	}
	write.POST("/zones/:id/traded", s.requireScope(auth.ScopeZonesWrite), s.handleMarkTraded)
	write.PUT("/policies/:name", s.requireScope(auth.ScopePolicies), s.handleSetPolicy)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "API endpoint not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})
}

func (s *Server) requireScope(scope string) gin.HandlerFunc {
	if s.opts.JWT == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireScope(scope)
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start runs the websocket hub and serves HTTP until Shutdown. The hub stops
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startHub(ctx)

	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (s *Server) startHub(ctx context.Context) {
	s.hubOnce.Do(func() {
		go s.hub.Run(ctx)
		if s.opts.Bus != nil {
			s.opts.Bus.SubscribeAll(s.hub.BroadcastEvent)
		}
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
