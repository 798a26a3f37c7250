package signal

import (
	"fmt"

	"manin/pkg/model"
)

const (
	MomentumVelocityName = "momentum-velocity"

	LabelParabolic = "Parabolic Acceleration"

	// Prefixes of the formatted tier labels
	PrefixVerticalMove = "Vertical Move"
	PrefixHighVelocity = "High Velocity"
)

// VelocityConfig holds the ROC tier thresholds (percent)
type VelocityConfig struct {
	VerticalROC3   float64
	VerticalScore  int
	HighROC3       float64
	HighScore      int
	ParabolicROC1  float64
	ParabolicScore int
}

// DefaultVelocityConfig returns the production thresholds
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		VerticalROC3:   100,
		VerticalScore:  10,
		HighROC3:       40,
		HighScore:      7,
		ParabolicROC1:  15,
		ParabolicScore: 5,
	}
}

// MomentumVelocity classifies short-horizon rate of change
type MomentumVelocity struct {
	config VelocityConfig
}

// NewMomentumVelocity creates the detector
func NewMomentumVelocity(cfg VelocityConfig) *MomentumVelocity {
	return &MomentumVelocity{config: cfg}
}

func (d *MomentumVelocity) Name() string { return MomentumVelocityName }

func (d *MomentumVelocity) MinBars() int { return 2 }

// ROC returns the n-bar rate of change of the last close in percent. When
// fewer than n bars precede the last one, the first close is the base.
func ROC(candles []model.Candle, n int) float64 {
	if len(candles) == 0 {
		return 0
	}
	last := len(candles) - 1
	baseIdx := last - n
	if baseIdx < 0 {
		baseIdx = 0
	}
	base := candles[baseIdx].Close
	if base == 0 {
		return 0
	}
	return (candles[last].Close - base) / base * 100
}

// Detect evaluates the ROC tier (first match wins) and the independent
// parabolic check. Returns nil only when no label fires.
func (d *MomentumVelocity) Detect(candles []model.Candle) *Result {
	if len(candles) < d.MinBars() {
		return nil
	}

	roc1 := ROC(candles, 1)
	roc3 := ROC(candles, 3)
	roc5 := ROC(candles, 5)

	var labels []string
	score := 0

	switch {
	case roc3 > d.config.VerticalROC3:
		labels = append(labels, fmt.Sprintf("%s (%.0f%%)", PrefixVerticalMove, roc3))
		score += d.config.VerticalScore
	case roc3 > d.config.HighROC3:
		labels = append(labels, fmt.Sprintf("%s (%.0f%%)", PrefixHighVelocity, roc3))
		score += d.config.HighScore
	}

	if roc1 > d.config.ParabolicROC1 && roc1 > roc3/2 {
		labels = append(labels, LabelParabolic)
		score += d.config.ParabolicScore
	}

	if len(labels) == 0 {
		return nil
	}

	return &Result{
		Labels: labels,
		Score:  score,
		Metrics: map[string]float64{
			"roc_1d": roc1,
			"roc_3d": roc3,
			"roc_5d": roc5,
		},
	}
}
