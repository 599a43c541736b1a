// Package runtime hosts the process-level services: telemetry providers and
// the HTTP surface for health, metrics and run history.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/eventstore"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// RunStore is the read side of the run history.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]eventstore.Run, error)
	GetRun(ctx context.Context, runID string) (eventstore.RunDetail, error)
}

// HealthCheck is a named dependency reported by /readyz.
type HealthCheck struct {
	Name    string
	Healthy func() bool
}

type Server struct {
	addr       string
	logger     *slog.Logger
	store      RunStore
	checks     []HealthCheck
	engine     *gin.Engine
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

// NewServer builds the router. store and metrics may be nil, in which case
// the corresponding routes are not served.
func NewServer(addr string, store RunStore, metrics http.Handler, logger *slog.Logger, checks ...HealthCheck) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:   addr,
		logger: logger.With(slog.String("component", "http")),
		store:  store,
		checks: checks,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", s.handleReady)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	if store != nil {
		api := router.Group("/api")
		{
			api.GET("/runs", s.handleListRuns)
			api.GET("/runs/:id", s.handleGetRun)
		}
	}
	s.engine = router
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Serve listens until ctx is done and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("http server started", slog.String("addr", s.addr))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	s.wg.Wait()
	s.logger.Info("http server stopped")
	return serveErr
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	for _, check := range s.checks {
		if check.Healthy != nil && !check.Healthy() {
			c.String(http.StatusServiceUnavailable, check.Name+" unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ready")
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []eventstore.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")
	detail, err := s.store.GetRun(c.Request.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run " + id + " not found"})
		return
	}
	if err != nil {
		s.logger.Error("get run failed", slog.String("run_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, detail)
}
