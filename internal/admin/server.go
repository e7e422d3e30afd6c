// Package admin is the relay's read-only observability surface: health,
// session/stream state snapshots, and a Prometheus metrics endpoint, bound
// to its own listener and carrying no protocol authority.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayState is the narrow view of the server supervisor this surface reads
// through — the relay's own mutex-guarded accessors, never a second tracking
// structure.
type RelayState interface {
	SessionCount() (sessions int, accounts int)
	StreamCount() int
	Ready() bool
}

// Server is the admin HTTP surface.
type Server struct {
	echo  *echo.Echo
	relay RelayState
	addr  string
}

// New builds an admin Server bound to addr, reading state through relay.
func New(addr string, relay RelayState) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, relay: relay, addr: addr}
	s.registerRoutes()
	s.registerMetrics()
	return s
}

// requestLogger mirrors this codebase's slog-backed echo middleware: debug
// for noisy polling paths, info for everything else, always with status and
// latency.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if req.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			slog.Log(req.Context(), level, "admin request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"remote", c.RealIP(),
				"latency", time.Since(start).String(),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/streams", s.handleStreams)
}

func (s *Server) handleHealth(c echo.Context) error {
	if !s.relay.Ready() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	sessions, accounts := s.relay.SessionCount()
	return c.JSON(http.StatusOK, map[string]int{
		"sessions":        sessions,
		"accounts_online": accounts,
	})
}

func (s *Server) handleStreams(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"active": s.relay.StreamCount()})
}

// registerMetrics exposes /metrics with GaugeFuncs read live off relay's
// mutex-guarded accessors — no separately maintained counters to drift out
// of sync with the JSON endpoints above.
func (s *Server) registerMetrics() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "zway_relay_sessions",
			Help: "Number of live sessions registered with the relay.",
		}, func() float64 {
			sessions, _ := s.relay.SessionCount()
			return float64(sessions)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "zway_relay_accounts_online",
			Help: "Number of distinct accounts with at least one live session.",
		}, func() float64 {
			_, accounts := s.relay.SessionCount()
			return float64(accounts)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "zway_relay_active_streams",
			Help: "Number of live entries in the stream buffer pool.",
		}, func() float64 {
			return float64(s.relay.StreamCount())
		}),
	)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

// Run serves the admin surface until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
