package signal

import "manin/pkg/model"

const (
	LiquiditySweepName = "liquidity-sweep"

	LabelSweepBullish = "Liquidity Sweep (Bullish)"
	LabelSweepBearish = "Liquidity Sweep (Bearish)"
)

// LiquiditySweepConfig holds the sweep parameters.
// Window is the size of the prior-bar range. Lookback only feeds the
// minimum length gate.
type LiquiditySweepConfig struct {
	Lookback int
	Window   int
	Score    int
}

// DefaultLiquiditySweepConfig returns the production parameters
func DefaultLiquiditySweepConfig() LiquiditySweepConfig {
	return LiquiditySweepConfig{
		Lookback: 3,
		Window:   20,
		Score:    5,
	}
}

// LiquiditySweep detects a bar that pierces the prior range extreme and
// closes back inside it.
type LiquiditySweep struct {
	config LiquiditySweepConfig
}

// NewLiquiditySweep creates the detector
func NewLiquiditySweep(cfg LiquiditySweepConfig) *LiquiditySweep {
	return &LiquiditySweep{config: cfg}
}

func (d *LiquiditySweep) Name() string { return LiquiditySweepName }

func (d *LiquiditySweep) MinBars() int {
	n := d.config.Lookback*2 + 10
	if d.config.Window+1 > n {
		n = d.config.Window + 1
	}
	return n
}

// Detect checks the bullish sweep first; the bearish side is only evaluated
// when the bullish side does not fire.
func (d *LiquiditySweep) Detect(candles []model.Candle) *Result {
	if len(candles) < d.MinBars() {
		return nil
	}

	current := candles[len(candles)-1]
	prior := candles[len(candles)-1-d.config.Window : len(candles)-1]
	recentLow := minLow(prior)
	recentHigh := maxHigh(prior)

	metrics := map[string]float64{
		"recent_low":  recentLow,
		"recent_high": recentHigh,
	}

	if current.Low < recentLow && current.Close > recentLow {
		return &Result{Labels: []string{LabelSweepBullish}, Score: d.config.Score, Metrics: metrics}
	}
	if current.High > recentHigh && current.Close < recentHigh {
		return &Result{Labels: []string{LabelSweepBearish}, Score: d.config.Score, Metrics: metrics}
	}
	return nil
}
