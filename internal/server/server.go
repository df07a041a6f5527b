// Package server exposes the beacon endpoint, the query API, Prometheus
// metrics and a websocket status stream over HTTP.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/analyzer"
	"codeberg.org/mutker/vitalsd/internal/collector"
	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/history"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/monitor"
	"codeberg.org/mutker/vitalsd/internal/vitals"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the part of the monitoring manager the API needs.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	RunOnce(ctx context.Context) monitor.RunResult
	Status() monitor.Status
	Diagnostics(route string) analyzer.DiagnosticReport
	Trend(route string) (analyzer.Trend, bool)
	Alerts() []alert.Alert
	Baselines() []vitals.Baseline
	Baseline(route string) (vitals.Baseline, bool)
	History(ctx context.Context, route string, limit int) ([]history.Entry, error)
}

type Server struct {
	cfg         Config
	log         logger.Logger
	monitor     Monitor
	beacons     *collector.BeaconSource
	metrics     http.Handler
	metricsPath string
	engine      *gin.Engine
}

type Option func(*Server)

// WithMetrics serves h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

func New(cfg Config, mon Monitor, beacons *collector.BeaconSource, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log.With("server"),
		monitor: mon,
		beacons: beacons,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	{
		api.OPTIONS("/vitals", s.cors, func(c *gin.Context) { c.Status(http.StatusNoContent) })
		api.POST("/vitals", s.cors, s.collect)

		api.GET("/status", s.status)
		api.POST("/monitor/start", s.startMonitor)
		api.POST("/monitor/stop", s.stopMonitor)
		api.POST("/monitor/run", s.runMonitor)

		api.GET("/diagnostics", s.diagnostics)
		api.GET("/trend", s.trend)
		api.GET("/baselines", s.baselines)
		api.GET("/alerts", s.alerts)
		api.GET("/history", s.history)
	}

	r.GET("/ws/status", s.statusStream)
	if s.metrics != nil {
		r.GET(s.metricsPath, gin.WrapH(s.metrics))
	}

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.New().Wrap(errors.ErrInitFailed, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Info().Msg("HTTP server stopped")

	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) cors(c *gin.Context) {
	if s.cfg.AllowOrigin == "" {
		return
	}
	c.Header("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) collect(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBeaconBytes)

	var beacon collector.Beacon
	if err := c.ShouldBindJSON(&beacon); err != nil {
		abort(c, errors.New().Wrap(errors.ErrInvalidSnapshot, err))
		return
	}

	n, err := s.beacons.Publish(beacon)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": n})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) startMonitor(c *gin.Context) {
	if err := s.monitor.Start(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) stopMonitor(c *gin.Context) {
	s.monitor.Stop()
	c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) runMonitor(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.RunOnce(c.Request.Context()))
}

func (s *Server) diagnostics(c *gin.Context) {
	route, ok := requireRoute(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.monitor.Diagnostics(route))
}

func (s *Server) trend(c *gin.Context) {
	route, ok := requireRoute(c)
	if !ok {
		return
	}
	trend, found := s.monitor.Trend(route)
	if !found {
		abort(c, errors.New().WithMessage(errors.ErrResourceNotFound, "not enough data for a trend yet"))
		return
	}
	c.JSON(http.StatusOK, trend)
}

func (s *Server) baselines(c *gin.Context) {
	route := c.Query("route")
	if route == "" {
		c.JSON(http.StatusOK, s.monitor.Baselines())
		return
	}

	b, ok := s.monitor.Baseline(route)
	if !ok {
		abort(c, errors.New().WithData(errors.ErrResourceNotFound, route))
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) alerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Alerts())
}

func (s *Server) history(c *gin.Context) {
	route, ok := requireRoute(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			abort(c, errors.New().WithData(errors.ErrInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := s.monitor.History(c.Request.Context(), route, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("route", route).Msg("Failed to read history")
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func requireRoute(c *gin.Context) (string, bool) {
	route := c.Query("route")
	if route == "" {
		abort(c, errors.New().WithMessage(errors.ErrInvalidArgument, "route query parameter is required"))
		return "", false
	}
	return route, true
}

// abort answers with the HTTP status mapped from err's code.
func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{
		"error": err.Error(),
		"code":  errors.CodeOf(err),
	})
}
