package ports

import "fvgbot/internal/domain"

// Metrics is the observability sink for structured pipeline events.
// Implementations must be safe for concurrent use; the pipeline only ever
// performs fire-and-forget increments.
type Metrics interface {
	GapDetected(symbol string, tf domain.Timeframe, kind domain.GapKind)
	GapArchived(symbol string, tf domain.Timeframe, status domain.GapStatus)
	ConfluenceFound(symbol string)
	IntentRejected(symbol, reason string)
	OrderSubmitted(symbol string)
	OrderFilled(symbol string)
	OrderExpired(symbol string)
	OrderUnknown(symbol string)
	SetActiveGaps(symbol string, tf domain.Timeframe, count int)
	SetLiveOrders(count int)
	ObservePollDuration(seconds float64)
}

// NopMetrics discards all events. Useful default for tests.
type NopMetrics struct{}

func (NopMetrics) GapDetected(string, domain.Timeframe, domain.GapKind)  {}
func (NopMetrics) GapArchived(string, domain.Timeframe, domain.GapStatus) {}
func (NopMetrics) ConfluenceFound(string)                                {}
func (NopMetrics) IntentRejected(string, string)                         {}
func (NopMetrics) OrderSubmitted(string)                                 {}
func (NopMetrics) OrderFilled(string)                                    {}
func (NopMetrics) OrderExpired(string)                                   {}
func (NopMetrics) OrderUnknown(string)                                   {}
func (NopMetrics) SetActiveGaps(string, domain.Timeframe, int)           {}
func (NopMetrics) SetLiveOrders(int)                                     {}
func (NopMetrics) ObservePollDuration(float64)                           {}
