package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	fleetadapter "github.com/restartfu/minerfleet/internal/adapters/fleet"
	httpadapter "github.com/restartfu/minerfleet/internal/adapters/http"
	"github.com/restartfu/minerfleet/internal/adapters/refresher"
	"github.com/restartfu/minerfleet/internal/app"
	"github.com/restartfu/minerfleet/internal/config"
	"github.com/restartfu/minerfleet/internal/devicelog"
	"github.com/restartfu/minerfleet/internal/logging"
	"github.com/restartfu/minerfleet/internal/observability"
	"github.com/restartfu/minerfleet/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "config file path; defaults to $MINERFLEET_CONFIG or ./minerfleet.yaml")
	addr := flag.String("addr", "", "listen address; overrides server.addr")
	refreshInterval := flag.Duration("refresh-interval", -1, "background fleet refresh interval; 0 disables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *refreshInterval >= 0 {
		cfg.Telemetry.RefreshInterval = *refreshInterval
	}

	logger := logging.New(cfg.Logging)
	flushSentry, sentryEnabled, sentryErr := observability.InitSentry(observability.SentryOptions{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
	})
	if sentryErr != nil {
		logger.Fatal().Err(sentryErr).Msg("sentry init")
	}
	defer flushSentry()

	devices := cfg.Devices()
	if len(devices) == 0 {
		logger.Warn().Msg("no devices configured; fleet will be empty")
	}

	client := telemetry.NewClient(cfg.Telemetry.Timeout, logging.Component(logger, "telemetry"))
	poller := telemetry.NewPoller(client, cfg.Telemetry.Workers, logging.Component(logger, "telemetry"))
	fetcher := devicelog.NewFetcher(
		devicelog.NewSessionClient(logging.Component(logger, "devicelog")),
		devices,
		devicelog.Timeouts{
			Login:     cfg.Logs.LoginTimeout,
			Log:       cfg.Logs.LogTimeout,
			PerDevice: cfg.Logs.DeviceLogTimeouts,
		},
		cfg.Logs.DefaultHours,
		logging.Component(logger, "devicelog"),
	)
	fleetReader := fleetadapter.NewReader(poller, fetcher, devices)
	fleetRefresher := refresher.NewRefresher(fleetReader, refresher.Config{
		Interval: cfg.Telemetry.RefreshInterval,
	}, logging.Component(logger, "refresher"))

	service := app.NewService(fleetReader, fleetReader, fleetRefresher, cfg.Presentation.Palette)
	httpServer := httpadapter.NewServer(service, httpadapter.Options{
		LogRatePerSecond: cfg.Logs.RatePerSecond,
		LogBurst:         cfg.Logs.RateBurst,
	}, logging.Component(logger, "http"))
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: echo.HeaderXRequestID,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Request().Header.Set(echo.HeaderXRequestID, id)
		},
	}))
	if sentryEnabled {
		echoServer.Use(sentryecho.New(sentryecho.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}
	echoServer.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","request_id":"${header:X-Request-ID}","remote_ip":"${remote_ip}","host":"${host}","method":"${method}","uri":"${uri}","status":${status},"latency":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out},"user_agent":"${user_agent}","error":"${error}"}` + "\n",
	}))
	echoServer.Use(middleware.Recover())
	echoServer.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err != nil {
				observability.CaptureError(err, map[string]string{
					"component": "http",
					"route":     c.Path(),
				}, map[string]interface{}{
					"method": c.Request().Method,
					"uri":    c.Request().RequestURI,
				})
			}
			return err
		}
	})
	httpServer.Register(echoServer)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           echoServer,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go fleetRefresher.Start(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("devices", len(devices)).
		Dur("refresh_interval", cfg.Telemetry.RefreshInterval).
		Msg("minerfleet http server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("listen")
		flushSentry()
		os.Exit(1)
	}
}
