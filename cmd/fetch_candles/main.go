package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"fvgbot/config"
	"fvgbot/internal/adapters/binanceclient"
	"fvgbot/internal/adapters/logger"
	"fvgbot/internal/domain"
	"fvgbot/internal/utils"
)

// Fetches recent candles for one stream and saves them as CSV for the
// offline gap scanner.
func main() {
	symbol := flag.String("symbol", "ETHUSDT", "trading symbol")
	timeframe := flag.String("timeframe", "1h", "candle timeframe (1m, 5m, 15m, 1h, 4h, 1d)")
	limit := flag.Int("limit", 1000, "number of candles to fetch")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	tf := domain.Timeframe(*timeframe)
	if tf.Duration() == 0 {
		log.Fatalf("FATAL: unsupported timeframe %q", *timeframe)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console"})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		IsTestnet: cfg.IsTestnet,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	key := domain.StreamKey{Symbol: *symbol, Timeframe: tf}
	candles, err := client.GetCandles(context.Background(), key, *limit)
	if err != nil {
		log.Fatalf("Error fetching candles: %v", err)
	}
	appLogger.Info(context.Background(), "Fetched candles", map[string]interface{}{"count": len(candles)})

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s.csv", *symbol, *timeframe, time.Now().Format("20060102")))
	if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved candles", map[string]interface{}{"filename": filename})
}
