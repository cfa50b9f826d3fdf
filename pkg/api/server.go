// Package api provides the HTTP lookup and admin API of a MARP node
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/metrics"
	"github.com/ZentaChain/marp-node/pkg/node"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/resolver"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var logger = logging.Logger("api")

// Backend is the node surface the API drives.
type Backend interface {
	Resolve(ctx context.Context, q *query.Query, opts resolver.Options) (*response.Response, error)
	Local(hash response.Hash) (*response.Response, error)
	Publish(hash response.Hash, proto uint16, payload []byte, ttl uint16) (*response.Response, error)
	Unpublish(hash response.Hash, proto uint16) error
	Stats() (*node.Stats, error)
}

// Server represents the HTTP API server
type Server struct {
	backend    Backend
	router     *gin.Engine
	limiter    *RateLimiter
	listen     string
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Listen       string
	EnableCORS   bool
	RateLimit    int // requests per minute per client, 0 disables
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func NewServer(backend Backend, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		backend: backend,
		router:  gin.New(),
		listen:  config.Listen,
		httpServer: &http.Server{
			Addr:         config.Listen,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.httpServer.Handler = s.router

	s.setupMiddleware(config)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(config *Config) {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/resolve/:name", s.handleResolve)

		records := v1.Group("/records")
		{
			records.GET("/:hash", s.handleGetRecords)
			records.POST("", s.handlePublish)
			records.DELETE("/:hash/:protocol", s.handleUnpublish)
		}

		v1.GET("/node/stats", s.handleNodeStats)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP API listening", "addr", s.listen)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if s.limiter != nil {
		go s.sweepLimiter(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infow("shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}
