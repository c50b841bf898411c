package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fvgbot/config"
	"fvgbot/internal/adapters/binanceclient"
	"fvgbot/internal/adapters/logger"
	"fvgbot/internal/adapters/metrics"
	"fvgbot/internal/adapters/sqlite"
	"fvgbot/internal/analysis"
	"fvgbot/internal/app"
	"fvgbot/internal/confluence"
	"fvgbot/internal/lifecycle"
	"fvgbot/internal/orders"
	"fvgbot/internal/quality"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel, "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Broker Client (Binance Adapter)
	broker, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		IsTestnet:            cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Metrics recorder plus the /metrics listener
	recorder := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			appLogger.Info(context.Background(), "Metrics listener started", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(context.Background(), err, "Metrics listener stopped")
			}
		}()
	}

	// 6. Initialize the pipeline components
	aggregator, err := confluence.New(confluence.Config{
		Threshold: cfg.ConfluenceThreshold,
		Weights: confluence.Weights{
			Time:      cfg.ConfluenceTimeWeight,
			Price:     cfg.ConfluencePriceWeight,
			Direction: cfg.ConfluenceDirectionWeight,
			Size:      cfg.ConfluenceSizeWeight,
		},
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize confluence aggregator")
		log.Fatalf("FATAL: Failed to initialize confluence aggregator: %v", err)
	}

	scorer, err := quality.New(quality.Config{
		Weights: quality.Weights{
			Size:      cfg.QualitySizeWeight,
			Structure: cfg.QualityStructureWeight,
			Context:   cfg.QualityContextWeight,
			Volume:    cfg.QualityVolumeWeight,
		},
		PipSize: cfg.PipSize,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize quality scorer")
		log.Fatalf("FATAL: Failed to initialize quality scorer: %v", err)
	}

	gate := orders.NewConcurrencyGate(cfg.MaxConcurrentPerSymbol)
	parameterizer, err := orders.New(orders.Config{
		MinRiskReward:           cfg.MinRiskReward,
		TargetRiskReward:        cfg.TargetRiskReward,
		BaseVolume:              cfg.BaseVolume,
		MaxVolume:               cfg.MaxVolume,
		VolumeStep:              cfg.VolumeStep,
		BaseExpiryHours:         cfg.BaseExpiryHours,
		QualityExpiryMultiplier: cfg.QualityExpiryMultiplier,
	}, gate)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize order parameterizer")
		log.Fatalf("FATAL: Failed to initialize order parameterizer: %v", err)
	}

	monitor, err := lifecycle.New(lifecycle.Config{
		PollInterval:    cfg.PollInterval,
		Workers:         cfg.PollWorkers,
		QueueSize:       cfg.OrderQueueSize,
		MaxPollFailures: cfg.MaxPollFailures,
		RetryMinBackoff: cfg.RetryMinBackoff,
		RetryMaxBackoff: cfg.RetryMaxBackoff,
	}, broker, repo, gate, appLogger, recorder)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize lifecycle monitor")
		log.Fatalf("FATAL: Failed to initialize lifecycle monitor: %v", err)
	}

	// 7. Initialize Application Service
	service, err := app.NewService(cfg, app.Deps{
		Logger:     appLogger,
		Candles:    broker,
		Broker:     broker,
		Repo:       repo,
		Metrics:    recorder,
		Aggregator: aggregator,
		Scorer:     scorer,
		Contexts:   analysis.NewContextBuilder(10, 30, 20, 20),
		Params:     parameterizer,
		Monitor:    monitor,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize pipeline service")
		log.Fatalf("FATAL: Failed to initialize pipeline service: %v", err)
	}
	appLogger.Info(context.Background(), "Pipeline service initialized")

	// 8. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Pipeline service exited with error")
		log.Fatalf("FATAL: Pipeline service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
