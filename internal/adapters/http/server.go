package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/restartfu/minerfleet/internal/app"
	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/observability"
)

const (
	defaultLogRate  = 1
	defaultLogBurst = 3
	limiterExpiry   = 3 * time.Minute
)

// Options tune the log endpoints. Each log request may hold a device console
// for up to a minute, so callers are throttled per client IP.
type Options struct {
	LogRatePerSecond float64
	LogBurst         int
}

type Server struct {
	service *app.Service
	options Options
	logger  zerolog.Logger
}

func NewServer(service *app.Service, options Options, logger zerolog.Logger) *Server {
	if options.LogRatePerSecond <= 0 {
		options.LogRatePerSecond = defaultLogRate
	}
	if options.LogBurst <= 0 {
		options.LogBurst = defaultLogBurst
	}
	return &Server{
		service: service,
		options: options,
		logger:  logger,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.JSONSerializer = jsonSerializer{}
	e.Validator = newRequestValidator()

	e.GET("/health", s.GetHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/fleet", s.GetFleet)
	api.GET("/fleet/cached", s.GetCachedFleet)
	api.GET("/refresher", s.GetRefresherStatus)
	api.GET("/palette", s.GetPalette)

	limiter := s.logRateLimiter()
	api.POST("/logs", s.PostLogs, limiter)
	api.GET("/miners/:name/logs", s.GetMinerLogs, limiter)
}

func (s *Server) logRateLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.options.LogRatePerSecond),
		Burst:     s.options.LogBurst,
		ExpiresIn: limiterExpiry,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(nethttp.StatusForbidden, errorResponse{Error: "cannot identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(nethttp.StatusTooManyRequests, errorResponse{Error: "too many log requests"})
		},
	})
}

func (s *Server) GetHealth(ctx echo.Context) error {
	health := s.service.Health()
	return ctx.JSON(nethttp.StatusOK, healthResponse{
		Status: health.Status,
		Time:   health.Time,
	})
}

func (s *Server) GetFleet(ctx echo.Context) error {
	fleet, err := s.service.Fleet(ctx.Request().Context())
	if err != nil {
		return s.requestFailed(ctx, "fleet", err)
	}
	return ctx.JSON(nethttp.StatusOK, newFleetResponse(fleet))
}

func (s *Server) GetCachedFleet(ctx echo.Context) error {
	fleet, ok := s.service.CachedFleet()
	if !ok {
		return ctx.JSON(nethttp.StatusNotFound, errorResponse{Error: errNoCachedFleet.Error()})
	}
	return ctx.JSON(nethttp.StatusOK, newFleetResponse(fleet))
}

func (s *Server) GetRefresherStatus(ctx echo.Context) error {
	return ctx.JSON(nethttp.StatusOK, newRefresherResponse(s.service.RefresherStatus()))
}

func (s *Server) GetPalette(ctx echo.Context) error {
	return ctx.JSON(nethttp.StatusOK, s.service.Palette())
}

func (s *Server) PostLogs(ctx echo.Context) error {
	return s.logs(ctx)
}

func (s *Server) GetMinerLogs(ctx echo.Context) error {
	return s.logs(ctx)
}

func (s *Server) logs(ctx echo.Context) error {
	var req logsRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(nethttp.StatusBadRequest, errorResponse{Error: errInvalidLogRequest.Error()})
	}
	if err := ctx.Validate(&req); err != nil {
		return ctx.JSON(nethttp.StatusBadRequest, errorResponse{Error: errInvalidLogRequest.Error() + ": " + err.Error()})
	}

	result, err := s.service.Logs(ctx.Request().Context(), req.Miner, req.Hours)
	if err != nil {
		return s.requestFailed(ctx, "logs", err)
	}

	status := nethttp.StatusOK
	if result.Status == domain.LogStatusError && result.Reason == "unknown_device" {
		status = nethttp.StatusNotFound
	}
	return ctx.JSON(status, newLogsResponse(result))
}

func (s *Server) requestFailed(ctx echo.Context, handler string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.JSON(nethttp.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	s.logger.Error().Err(err).Str("handler", handler).Msg("request failed")
	observability.CaptureError(err, map[string]string{
		"component": "http",
		"handler":   handler,
	}, nil)
	return ctx.JSON(nethttp.StatusInternalServerError, errorResponse{Error: err.Error()})
}

var (
	errInvalidLogRequest = errors.New("invalid log request")
	errNoCachedFleet     = errors.New("no cached fleet snapshot")
)
