package ports

import (
	"context"

	"fvgbot/internal/domain"
)

// CandleSource supplies ordered candle data per (symbol, timeframe)
// stream. Contract: timestamps strictly increasing, duplicates removed
// upstream.
type CandleSource interface {
	// GetCandles retrieves the most recent historical candles for the stream.
	GetCandles(ctx context.Context, key domain.StreamKey, limit int) ([]domain.Candle, error)

	// StreamCandles starts a stream of closed candles for the key. It takes
	// handlers for candle events and errors and returns channels to observe
	// and stop the stream, mirroring the underlying websocket lifecycle.
	StreamCandles(ctx context.Context, key domain.StreamKey, handler func(domain.Candle), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
