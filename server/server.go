// Package server exposes the read-only status API: health, a snapshot
// of the trading loop and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/session"
)

// StatusSource is the trading loop.
type StatusSource interface {
	Status() session.Status
}

// Pinger checks a dependency such as the journal database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Feed is the live quote stream.
type Feed interface {
	Connected() bool
	LastTick() time.Time
}

// Deps are the pieces the handlers read from. Only Status is required.
type Deps struct {
	Status  StatusSource
	DB      Pinger
	Feed    Feed
	Breaker func() string
}

type Server struct {
	addr    string
	deps    Deps
	router  *gin.Engine
	http    *http.Server
	started time.Time
	log     zerolog.Logger
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func New(addr string, deps Deps, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		deps:    deps,
		router:  router,
		started: time.Now(),
		log:     log.With().Str("component", "server").Logger(),
	}
	router.Use(s.requestLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("status api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("status api: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown status api: %w", err)
	}
	return <-errc
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	code := http.StatusOK

	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["database"] = "healthy"
		}
	}
	if s.deps.Feed != nil {
		body["ticker_connected"] = s.deps.Feed.Connected()
		if last := s.deps.Feed.LastTick(); !last.IsZero() {
			body["last_tick"] = last.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(code, body)
}

type statusResponse struct {
	session.Status
	Breaker string `json:"breaker,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{Status: s.deps.Status.Status()}
	if s.deps.Breaker != nil {
		resp.Breaker = s.deps.Breaker()
	}
	c.JSON(http.StatusOK, resp)
}
