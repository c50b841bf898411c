package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"fvgbot/config"
	"fvgbot/internal/analysis"
	"fvgbot/internal/confluence"
	"fvgbot/internal/detector"
	"fvgbot/internal/domain"
	"fvgbot/internal/quality"
	"fvgbot/internal/utils"
)

// Replays candle CSVs (one file per timeframe, written by fetch_candles)
// through the gap detector, scores every gap and reports cross-timeframe
// confluence. Useful for calibrating thresholds offline.
func main() {
	files := flag.String("files", "", "comma-separated candle CSV files, one per timeframe")
	flag.Parse()
	if *files == "" {
		log.Fatal("FATAL: -files is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	det, err := detector.New(detector.Config{
		MinGapSize:         cfg.MinGapSize,
		MaxGapSize:         cfg.MaxGapSize,
		BodyRatioThreshold: cfg.BodyRatioThreshold,
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	scorer, err := quality.New(quality.Config{PipSize: cfg.PipSize, Weights: quality.Weights{
		Size:      cfg.QualitySizeWeight,
		Structure: cfg.QualityStructureWeight,
		Context:   cfg.QualityContextWeight,
		Volume:    cfg.QualityVolumeWeight,
	}})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	aggregator, err := confluence.New(confluence.Config{Threshold: cfg.ConfluenceThreshold, Weights: confluence.Weights{
		Time:      cfg.ConfluenceTimeWeight,
		Price:     cfg.ConfluencePriceWeight,
		Direction: cfg.ConfluenceDirectionWeight,
		Size:      cfg.ConfluenceSizeWeight,
	}})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	contexts := analysis.NewContextBuilder(10, 30, 20, 20)

	gapsByTF := make(map[domain.Timeframe][]*domain.Gap)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "File\tCandles\tGaps\tActive\tFilled\tExpired\tAvgQuality\t")

	for _, file := range strings.Split(*files, ",") {
		file = strings.TrimSpace(file)
		candles, err := utils.ReadCandlesFromCSV(file)
		if err != nil {
			log.Fatalf("Error reading candles from %s: %v", file, err)
		}
		if len(candles) == 0 {
			continue
		}

		key := domain.StreamKey{Symbol: candles[0].Symbol, Timeframe: candles[0].Timeframe}
		stream, err := detector.NewStream(key, det, detector.StreamConfig{
			MaxActiveGaps: cfg.MaxActiveGaps,
			MaxGapAge:     cfg.MaxGapAge,
		})
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}

		var all []*domain.Gap
		var filled, expired int
		history := make([]domain.Candle, 0, len(candles))
		for _, c := range candles {
			newGap, archived, err := stream.Push(c)
			if err != nil {
				continue
			}
			history = append(history, c)
			if newGap != nil {
				result := scorer.Score(newGap,
					contexts.Market(history, newGap.Kind),
					contexts.Volume(history, newGap.ImpulseCandle()))
				score := result.Score
				newGap.QualityScore = &score
				all = append(all, newGap)
			}
			for _, g := range archived {
				switch g.Status {
				case domain.GapFilled:
					filled++
				case domain.GapExpired:
					expired++
				}
			}
		}

		active := stream.ActiveGaps()
		gapsByTF[key.Timeframe] = active

		avg := 0.0
		for _, g := range all {
			avg += *g.QualityScore
		}
		if len(all) > 0 {
			avg /= float64(len(all))
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.2f\t\n",
			file, len(candles), len(all), len(active), filled, expired, avg)
	}
	w.Flush()

	confluences := aggregator.Aggregate(gapsByTF)
	fmt.Printf("\n## Cross-timeframe confluences (threshold %.1f): %d\n", cfg.ConfluenceThreshold, len(confluences))
	for _, c := range confluences {
		fmt.Printf("%s/%s x %s/%s strength=%.2f directionMatch=%v region=[%.5f, %.5f]\n",
			c.GapA.Symbol, c.TimeframeA, c.GapB.Symbol, c.TimeframeB,
			c.Strength, c.DirectionMatch,
			c.GapA.Bottom, c.GapA.Top)
	}
}
