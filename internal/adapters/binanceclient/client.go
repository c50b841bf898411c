package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// Client implements the ports.BrokerGateway and ports.CandleSource
// interfaces using the Binance Futures API.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	isTestnet            bool
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration for the Binance client.
type Config struct {
	APIKey    string
	SecretKey string
	IsTestnet bool
	Logger    ports.Logger

	// ReconnectDelay is the initial websocket reconnect backoff; zero uses
	// one second. MaxReconnectAttempts bounds consecutive failed connect
	// attempts before the stream gives up; zero means unbounded.
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: API key and secret key are required", ports.ErrConfigurationError)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}

	futures.UseTestnet = cfg.IsTestnet
	futuresClient := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	cfg.Logger.Info(context.Background(), "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	return &Client{
		futuresClient:        futuresClient,
		logger:               cfg.Logger,
		isTestnet:            cfg.IsTestnet,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil
}

// handleError translates Binance API errors into standard application
// errors defined in the ports package.
func (c *Client) handleError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn(context.Background(), "Binance API error", map[string]interface{}{
			"operation": operation,
			"code":      apiErr.Code,
			"message":   apiErr.Message,
		})
		switch apiErr.Code {
		case -1003: // WAF rate limit
			return fmt.Errorf("%w: %s: %v", ports.ErrRateLimited, operation, err)
		case -1021: // Timestamp outside recvWindow
			return fmt.Errorf("%w: %s: %v", ports.ErrTimeout, operation, err)
		case -1022, -2014, -2015: // Signature / API key problems
			return fmt.Errorf("%w: %s: %v", ports.ErrAuthenticationFailed, operation, err)
		case -2010: // New order rejected
			return fmt.Errorf("%w: %s: %v", ports.ErrOrderPlacementFailed, operation, err)
		case -2011: // Cancel rejected
			return fmt.Errorf("%w: %s: %v", ports.ErrOrderCancelFailed, operation, err)
		case -2013: // Order does not exist
			return fmt.Errorf("%w: %s: %v", ports.ErrOrderNotFound, operation, err)
		case -4164: // Notional below minimum
			return fmt.Errorf("%w: %s: %v", ports.ErrOrderPlacementFailed, operation, err)
		default:
			return fmt.Errorf("%w: %s: %v", ports.ErrBrokerUnavailable, operation, err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ports.ErrContextCanceled, operation)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ports.ErrTimeout, operation)
	}
	return fmt.Errorf("%w: %s: %v", ports.ErrConnectionFailed, operation, err)
}

// SubmitLimitOrder places a GTC limit order for the intent and returns
// the broker-assigned ticket.
func (c *Client) SubmitLimitOrder(ctx context.Context, intent domain.OrderIntent) (int64, error) {
	side := futures.SideTypeBuy
	if intent.Side == domain.Sell {
		side = futures.SideTypeSell
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(strconv.FormatFloat(intent.Volume, 'f', -1, 64)).
		Price(strconv.FormatFloat(intent.EntryPrice, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return 0, c.handleError(err, "SubmitLimitOrder")
	}

	c.logger.Info(ctx, "Limit order submitted", map[string]interface{}{
		"symbol": intent.Symbol,
		"side":   string(intent.Side),
		"price":  intent.EntryPrice,
		"volume": intent.Volume,
		"ticket": order.OrderID,
	})
	return order.OrderID, nil
}

// OpenOrders lists the orders Binance still considers open for the symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	orders, err := c.futuresClient.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(err, "OpenOrders")
	}

	result := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		side := domain.Buy
		if o.Side == futures.SideTypeSell {
			side = domain.Sell
		}
		result = append(result, ports.OpenOrder{
			Ticket: o.OrderID,
			Symbol: o.Symbol,
			Side:   side,
			Price:  parseFloat(o.Price, c.logger, "open order price"),
			Volume: parseFloat(o.OrigQuantity, c.logger, "open order quantity"),
		})
	}
	return result, nil
}

// TradeHistory returns the account executions for the symbol since the
// given time.
func (c *Client) TradeHistory(ctx context.Context, symbol string, since time.Time) ([]ports.Execution, error) {
	trades, err := c.futuresClient.NewListAccountTradeService().
		Symbol(symbol).
		StartTime(since.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(err, "TradeHistory")
	}

	result := make([]ports.Execution, 0, len(trades))
	for _, t := range trades {
		result = append(result, ports.Execution{
			Ticket:     t.OrderID,
			Symbol:     t.Symbol,
			Price:      parseFloat(t.Price, c.logger, "trade price"),
			Volume:     parseFloat(t.Quantity, c.logger, "trade quantity"),
			ExecutedAt: time.UnixMilli(t.Time),
		})
	}
	return result, nil
}

// CancelOrder cancels an open order by ticket.
func (c *Client) CancelOrder(ctx context.Context, symbol string, ticket int64) error {
	_, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(ticket).
		Do(ctx)
	if err != nil {
		return c.handleError(err, "CancelOrder")
	}

	c.logger.Info(ctx, "Order cancelled", map[string]interface{}{"symbol": symbol, "ticket": ticket})
	return nil
}

// GetCandles retrieves the most recent historical candles for the stream.
func (c *Client) GetCandles(ctx context.Context, key domain.StreamKey, limit int) ([]domain.Candle, error) {
	klines, err := c.futuresClient.NewKlinesService().
		Symbol(key.Symbol).
		Interval(string(key.Timeframe)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(err, "GetCandles")
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, domain.Candle{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open, c.logger, "kline open"),
			High:      parseFloat(k.High, c.logger, "kline high"),
			Low:       parseFloat(k.Low, c.logger, "kline low"),
			Close:     parseFloat(k.Close, c.logger, "kline close"),
			Volume:    parseFloat(k.Volume, c.logger, "kline volume"),
		})
	}
	return candles, nil
}

// StreamCandles subscribes to the kline websocket for the stream key and
// invokes handler for each closed candle. The connection is re-established
// with exponential backoff and jitter until the returned stopCh is closed
// or the context is cancelled; doneCh closes when the stream has shut down
// for good.
func (c *Client) StreamCandles(ctx context.Context, key domain.StreamKey, handler func(domain.Candle), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	if handler == nil || errHandler == nil {
		return nil, nil, fmt.Errorf("%w: stream handlers are required", ports.ErrInvalidRequest)
	}

	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	wsHandler := func(event *futures.WsKlineEvent) {
		if !event.Kline.IsFinal {
			return
		}
		candle := domain.Candle{
			Symbol:    event.Symbol,
			Timeframe: key.Timeframe,
			OpenTime:  time.UnixMilli(event.Kline.StartTime),
			Open:      parseFloat(event.Kline.Open, c.logger, "ws kline open"),
			High:      parseFloat(event.Kline.High, c.logger, "ws kline high"),
			Low:       parseFloat(event.Kline.Low, c.logger, "ws kline low"),
			Close:     parseFloat(event.Kline.Close, c.logger, "ws kline close"),
			Volume:    parseFloat(event.Kline.Volume, c.logger, "ws kline volume"),
		}
		if err := candle.Validate(); err != nil {
			errHandler(err)
			return
		}
		handler(candle)
	}

	go func() {
		defer close(doneCh)

		retry := &backoff.Backoff{
			Min:    c.reconnectDelay,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		}
		failures := 0

		for {
			wsDoneCh, wsStopCh, err := futures.WsKlineServe(key.Symbol, string(key.Timeframe), wsHandler, errHandler)
			if err != nil {
				failures++
				if c.maxReconnectAttempts > 0 && failures >= c.maxReconnectAttempts {
					c.logger.Error(ctx, err, "Kline websocket reconnect attempts exhausted", map[string]interface{}{
						"symbol":    key.Symbol,
						"timeframe": string(key.Timeframe),
						"attempts":  failures,
					})
					return
				}
				wait := retry.Duration()
				c.logger.Warn(ctx, "Kline websocket connect failed, retrying", map[string]interface{}{
					"symbol":    key.Symbol,
					"timeframe": string(key.Timeframe),
					"error":     err.Error(),
					"retry_in":  wait.String(),
				})
				select {
				case <-time.After(wait):
					continue
				case <-stopCh:
					return
				case <-ctx.Done():
					return
				}
			}

			failures = 0
			retry.Reset()
			c.logger.Info(ctx, "Kline websocket connected", map[string]interface{}{
				"symbol":    key.Symbol,
				"timeframe": string(key.Timeframe),
			})

			select {
			case <-wsDoneCh:
				// Connection dropped; loop and reconnect.
				c.logger.Warn(ctx, "Kline websocket disconnected", map[string]interface{}{
					"symbol":    key.Symbol,
					"timeframe": string(key.Timeframe),
				})
			case <-stopCh:
				close(wsStopCh)
				return
			case <-ctx.Done():
				close(wsStopCh)
				return
			}
		}
	}()

	return doneCh, stopCh, nil
}

// parseFloat converts a Binance string price/quantity to float64, logging
// and returning 0 on malformed input.
func parseFloat(s string, logger ports.Logger, what string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logger.Warn(context.Background(), "Failed to parse numeric field", map[string]interface{}{
			"field": what,
			"value": s,
		})
		return 0
	}
	return v
}
