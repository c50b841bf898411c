package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCandle marks a candle that violates its price invariants.
// Callers skip the offending window rather than aborting the stream.
var ErrInvalidCandle = errors.New("invalid candle")

// Candle represents a single OHLCV candlestick.
type Candle struct {
	Symbol    string    // Trading symbol
	Timeframe Timeframe // Candle interval (e.g., "1m", "1h")
	OpenTime  time.Time // Start time of the interval
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}

// Validate checks the candle invariants: a symbol and open time must be
// present and low <= open,close <= high.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidCandle)
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("%w: missing open time", ErrInvalidCandle)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8f below low %.8f", ErrInvalidCandle, c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High {
		return fmt.Errorf("%w: open %.8f outside [low, high]", ErrInvalidCandle, c.Open)
	}
	if c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: close %.8f outside [low, high]", ErrInvalidCandle, c.Close)
	}
	return nil
}

// Body returns the absolute size of the candle body.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-to-low extent of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// BodyRatio returns body/range, or 0 for a zero-range candle. A zero-range
// candle is never a strong directional candle.
func (c Candle) BodyRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return c.Body() / r
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }
