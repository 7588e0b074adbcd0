package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/vigil-agent/internal/alerts"
	"github.com/vigilstack/vigil-agent/internal/api"
	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/correlate"
	"github.com/vigilstack/vigil-agent/internal/engine"
	"github.com/vigilstack/vigil-agent/internal/journal"
	"github.com/vigilstack/vigil-agent/internal/metrics"
	"github.com/vigilstack/vigil-agent/internal/notify"
	"github.com/vigilstack/vigil-agent/internal/patterns"
	"github.com/vigilstack/vigil-agent/internal/scoring"
	"github.com/vigilstack/vigil-agent/internal/utils"
	"github.com/vigilstack/vigil-agent/internal/window"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting vigil-agent", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	categorizer, err := engine.NewCategorizer(cfg.Rules.Path, utils.ComponentLogger(logger, "categorize"))
	if err != nil {
		logger.Error("failed to load category rules", slog.Any("error", err))
		os.Exit(1)
	}

	windower := window.New(window.Config{
		Duration:         cfg.Window.Duration,
		SamplingInterval: cfg.Window.SamplingInterval,
		Mode:             window.Mode(cfg.Window.Mode),
	})

	scorer := scoring.New(scoring.Config{
		Cutoff:           cfg.Scoring.Cutoff,
		HysteresisMargin: cfg.Scoring.HysteresisMargin,
		ConsecutiveK:     cfg.Scoring.ConsecutiveK,
		Timeout:          cfg.Scoring.Timeout,
	}, scoring.BaselineModel(), utils.ComponentLogger(logger, "scoring"))

	correlator := correlate.New(correlate.Config{
		Lookback:           cfg.Correlate.Lookback,
		Capacity:           cfg.Correlate.Capacity,
		RelevanceThreshold: cfg.Correlate.RelevanceThreshold,
	}, utils.ComponentLogger(logger, "correlate"))

	alertManager := alerts.New(alerts.Config{
		ReopenWindow: cfg.Alerts.ReopenWindow,
		Retention:    cfg.Alerts.Retention,
	}, correlator, utils.ComponentLogger(logger, "alerts"))

	hub := api.NewHub(utils.ComponentLogger(logger, "ws"))
	tracker := patterns.NewTracker(utils.ComponentLogger(logger, "patterns"))
	alertManager.Subscribe(hub)
	alertManager.Subscribe(tracker)

	if cfg.Journal.Enabled {
		alertJournal, err := journal.Open(cfg.Journal.Path, utils.ComponentLogger(logger, "journal"))
		if err != nil {
			logger.Error("failed to open alert journal", slog.Any("error", err))
			os.Exit(1)
		}
		defer alertJournal.Close()
		alertManager.Subscribe(alertJournal)
	}

	if cfg.Webhook.URL != "" {
		webhook := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout, utils.ComponentLogger(logger, "webhook"))
		defer webhook.Close()
		alertManager.Subscribe(webhook)
	}

	pipeline := engine.NewPipeline(
		utils.ComponentLogger(logger, "pipeline"),
		engine.Config{
			SnapshotQueueCapacity: cfg.Pipeline.SnapshotQueueCapacity,
			LogQueueCapacity:      cfg.Pipeline.LogQueueCapacity,
			SweepInterval:         cfg.Pipeline.SweepInterval,
		},
		windower,
		scorer,
		correlator,
		alertManager,
		categorizer,
	)

	handlers := api.NewHandlers(utils.ComponentLogger(logger, "api"), pipeline, tracker, hub)
	server, err := api.NewServer(cfg.Server, handlers.Router())
	if err != nil {
		logger.Error("failed to create API server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipeline.Run(ctx); err != nil {
			logger.Error("pipeline exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("API server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	// The journal and webhook close on return; no transition may arrive
	// after that, so wait for the pipeline to stop producing them.
	<-pipelineDone

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("vigil-agent stopped")
}
