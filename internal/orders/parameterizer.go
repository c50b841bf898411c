package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// Rejection reasons. A rejected parameterization is a normal outcome, not
// a pipeline failure: the caller logs it and moves on.
var (
	ErrRiskRewardTooLow = errors.New("risk:reward below minimum")
	ErrConcurrencyLimit = errors.New("per-symbol concurrency cap reached")
	ErrGapNotTradable   = errors.New("gap is not active")
	ErrVolumeBelowStep  = errors.New("computed volume below instrument step")
)

// Config holds the parameterization rules.
type Config struct {
	MinRiskReward           float64 // Reject intents below this reward/risk
	TargetRiskReward        float64 // Base reward multiple before the quality bonus
	BaseVolume              float64
	MaxVolume               float64
	VolumeStep              float64 // Instrument minimum volume step
	BaseExpiryHours         float64
	QualityExpiryMultiplier float64
	EntryOffsetFactor       float64 // Fraction of gap size per unit of (1 - quality); 0 uses the 0.2 default
}

// TradeContext carries the market snapshot a parameterization runs
// against.
type TradeContext struct {
	CurrentPrice float64
	Now          time.Time
}

// Parameterizer converts a scored gap into an immutable OrderIntent. It is
// stateless aside from the concurrency gate.
type Parameterizer struct {
	cfg  Config
	gate *ConcurrencyGate
}

// New creates a parameterizer, validating the rule domain.
func New(cfg Config, gate *ConcurrencyGate) (*Parameterizer, error) {
	if gate == nil {
		return nil, fmt.Errorf("%w: concurrency gate is required", ports.ErrConfigurationError)
	}
	if cfg.MinRiskReward < 1.0 {
		return nil, fmt.Errorf("%w: MinRiskReward must be at least 1.0", ports.ErrConfigurationError)
	}
	if cfg.TargetRiskReward <= 0 {
		return nil, fmt.Errorf("%w: TargetRiskReward must be positive", ports.ErrConfigurationError)
	}
	if cfg.BaseVolume <= 0 || cfg.MaxVolume < cfg.BaseVolume {
		return nil, fmt.Errorf("%w: volumes must satisfy 0 < BaseVolume <= MaxVolume", ports.ErrConfigurationError)
	}
	if cfg.VolumeStep <= 0 {
		return nil, fmt.Errorf("%w: VolumeStep must be positive", ports.ErrConfigurationError)
	}
	if cfg.BaseExpiryHours <= 0 {
		return nil, fmt.Errorf("%w: BaseExpiryHours must be positive", ports.ErrConfigurationError)
	}
	if cfg.QualityExpiryMultiplier < 0 {
		return nil, fmt.Errorf("%w: QualityExpiryMultiplier cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.EntryOffsetFactor <= 0 {
		cfg.EntryOffsetFactor = 0.2
	}
	return &Parameterizer{cfg: cfg, gate: gate}, nil
}

// Gate exposes the shared concurrency gate so the lifecycle monitor can
// release slots on terminal order states.
func (p *Parameterizer) Gate() *ConcurrencyGate { return p.gate }

// Parameterize derives entry, stop, target, volume and expiry from the
// gap and its quality. quality is the normalized score in [0,1]. On
// success the per-symbol concurrency slot is reserved; the caller owns
// releasing it if the intent is discarded before submission.
func (p *Parameterizer) Parameterize(gap *domain.Gap, quality float64, tradeCtx TradeContext) (*domain.OrderIntent, error) {
	if !gap.IsActive() {
		return nil, fmt.Errorf("%w: gap %s is %s", ErrGapNotTradable, gap.ID, gap.Status)
	}
	if quality < 0 {
		quality = 0
	} else if quality > 1 {
		quality = 1
	}

	side := domain.Buy
	if gap.Kind == domain.Bearish {
		side = domain.Sell
	}

	entry := p.entryPrice(gap, quality, tradeCtx.CurrentPrice)
	stop := p.stopLoss(gap, quality)
	risk := entry - stop
	if side == domain.Sell {
		risk = stop - entry
	}
	if risk <= 0 {
		return nil, fmt.Errorf("%w: non-positive risk for gap %s", ErrRiskRewardTooLow, gap.ID)
	}

	rewardMultiple := p.cfg.TargetRiskReward + 0.5*quality
	target := entry + risk*rewardMultiple
	if side == domain.Sell {
		target = entry - risk*rewardMultiple
	}

	riskReward := rewardMultiple // reward/risk by construction
	if riskReward < p.cfg.MinRiskReward {
		return nil, fmt.Errorf("%w: %.2f < %.2f for gap %s", ErrRiskRewardTooLow, riskReward, p.cfg.MinRiskReward, gap.ID)
	}

	volume, err := p.volume(quality)
	if err != nil {
		return nil, err
	}

	expiryHours := p.cfg.BaseExpiryHours * (1 + quality*p.cfg.QualityExpiryMultiplier)
	expiry := tradeCtx.Now.Add(time.Duration(expiryHours * float64(time.Hour)))

	if !p.gate.Reserve(gap.Symbol) {
		return nil, fmt.Errorf("%w: symbol %s", ErrConcurrencyLimit, gap.Symbol)
	}

	return &domain.OrderIntent{
		ID:         uuid.NewString(),
		GapID:      gap.ID,
		Symbol:     gap.Symbol,
		Side:       side,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Volume:     volume,
		Expiry:     expiry,
		RiskReward: riskReward,
		Confidence: quality,
		CreatedAt:  tradeCtx.Now,
	}, nil
}

// entryPrice offsets the entry from the boundary nearest the expected
// retracement: higher quality places it tighter to the boundary. When the
// current price has already moved past the gap, the entry clamps to the
// midpoint.
func (p *Parameterizer) entryPrice(gap *domain.Gap, quality, currentPrice float64) float64 {
	offset := (1 - quality) * p.cfg.EntryOffsetFactor * gap.Size
	if gap.Kind == domain.Bullish {
		if currentPrice > 0 && currentPrice < gap.Bottom {
			return gap.Midpoint()
		}
		return gap.Bottom + offset
	}
	if currentPrice > gap.Top {
		return gap.Midpoint()
	}
	return gap.Top - offset
}

// stopLoss widens the stop proportionally to quality: higher-quality gaps
// are given more room.
func (p *Parameterizer) stopLoss(gap *domain.Gap, quality float64) float64 {
	buffer := gap.Size * (1.0 + 0.5*quality)
	if gap.Kind == domain.Bullish {
		return gap.Bottom - buffer
	}
	return gap.Top + buffer
}

// volume scales the base volume by quality, caps it, and rounds down to
// the instrument's minimum step. Decimal arithmetic avoids float noise in
// the step rounding.
func (p *Parameterizer) volume(quality float64) (float64, error) {
	raw := p.cfg.BaseVolume * (1 + quality)
	if raw > p.cfg.MaxVolume {
		raw = p.cfg.MaxVolume
	}
	step := decimal.NewFromFloat(p.cfg.VolumeStep)
	steps := decimal.NewFromFloat(raw).Div(step).Floor()
	rounded, _ := steps.Mul(step).Float64()
	if rounded <= 0 {
		return 0, fmt.Errorf("%w: %.8f rounds to zero at step %.8f", ErrVolumeBelowStep, raw, p.cfg.VolumeStep)
	}
	return rounded, nil
}
