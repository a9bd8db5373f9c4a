package api

import (
	"net/http"
	"strconv"
	"time"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func() error

type RouterOptions struct {
	RequestTimeout time.Duration
	RateLimiter    *RateLimiter
	Ready          ReadinessCheck
}

// NewRouter builds the echo instance serving the loan API plus the
// health, readiness and metrics endpoints.
func NewRouter(h *Handler, opts RouterOptions, log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(requestMetrics())
	if opts.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
			Timeout: opts.RequestTimeout,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/ready", func(c echo.Context) error {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				log.Warn("readiness check failed", map[string]interface{}{"error": err.Error()})
				return c.String(http.StatusServiceUnavailable, "NOT READY")
			}
		}
		return c.String(http.StatusOK, "READY")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api")
	if opts.RateLimiter != nil {
		g.Use(opts.RateLimiter.Middleware())
	}
	h.Register(g)
	return e
}

func requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			return err
		}
	}
}
