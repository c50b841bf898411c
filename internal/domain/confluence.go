package domain

// Confluence expresses agreement between two gaps detected independently
// on different timeframes of the same symbol. It is derived state,
// recomputed on every aggregation cycle and never persisted.
type Confluence struct {
	GapA           *Gap
	GapB           *Gap
	TimeframeA     Timeframe
	TimeframeB     Timeframe
	Strength       float64 // Weighted composite in [0,10], symmetric in A/B
	DirectionMatch bool
}

// CombinedSize returns the summed gap sizes, used as a sort tie-breaker.
func (c Confluence) CombinedSize() float64 {
	return c.GapA.Size + c.GapB.Size
}
