package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/uddoktapay-gateway/internal/app"
	"github.com/noah-isme/uddoktapay-gateway/internal/config"
	"github.com/noah-isme/uddoktapay-gateway/internal/health"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
	"github.com/noah-isme/uddoktapay-gateway/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("service", "uddoktapay-gateway").
		Str("env", cfg.AppEnv).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "uddoktapay-gateway",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.DatabaseMigrate {
		if err := app.RunMigrations(cfg); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Connect(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	svcs, err := app.BuildServices(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build services")
	}

	routerCfg := app.RouterConfig{
		Metrics:       httpMetrics,
		EnableTracing: tracingEnabled,
		SecurityHeaders: security.Headers{
			Enable:     cfg.SecurityHeaders,
			EnableHSTS: cfg.EnableHSTS,
		},
		WebhookMaxBody: cfg.WebhookMaxBodyBytes,
		AdminAPIToken:  cfg.AdminAPIToken,
		Pprof: app.PprofConfig{
			Enabled: cfg.Obs.EnablePprof,
			User:    cfg.Obs.PprofUser,
			Pass:    cfg.Obs.PprofPass,
		},
		Health: health.Handler{Probes: deps.Probes(cfg.HealthDBTimeout, cfg.HealthRedisTimeout)},
	}
	if cfg.Obs.EnablePrometheus {
		routerCfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(routerCfg, svcs, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	variants := make([]string, 0, len(cfg.Gateways))
	for v := range cfg.Gateways {
		variants = append(variants, v.String())
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Strs("variants", variants).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}
