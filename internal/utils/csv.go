package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"fvgbot/internal/domain"
)

// WriteCandlesToCSV saves candles for offline gap scanning.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "symbol", "timeframe", "open", "high", "low", "close", "volume"})

	for _, c := range candles {
		writer.Write([]string{
			c.OpenTime.Format(time.RFC3339),
			c.Symbol,
			string(c.Timeframe),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadCandlesFromCSV loads candles written by WriteCandlesToCSV.
func ReadCandlesFromCSV(filename string) ([]domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	candles := make([]domain.Candle, 0, len(records)-1)
	for i, rec := range records[1:] { // Skip header
		if len(rec) < 8 {
			return nil, fmt.Errorf("row %d: expected 8 columns, got %d", i+2, len(rec))
		}
		openTime, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid open_time: %w", i+2, err)
		}
		values := make([]float64, 5)
		for j, field := range rec[3:8] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid numeric field %q: %w", i+2, field, err)
			}
			values[j] = v
		}
		candles = append(candles, domain.Candle{
			OpenTime:  openTime,
			Symbol:    rec[1],
			Timeframe: domain.Timeframe(rec[2]),
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}
	return candles, nil
}
