package signal

import "manin/pkg/model"

const (
	WyckoffSpringName  = "wyckoff-spring"
	LabelWyckoffSpring = "Wyckoff Spring"
)

// WyckoffConfig holds spring parameters. The support window runs from
// RangeStart bars back up to (but excluding) the last RangeEnd bars.
type WyckoffConfig struct {
	MinBars        int
	RangeStart     int
	RangeEnd       int
	VolumeWindow   int     // bars before the current one used for the volume mean
	MaxVolumeRatio float64 // strict upper bound
	Score          int
}

// DefaultWyckoffConfig returns the production parameters
func DefaultWyckoffConfig() WyckoffConfig {
	return WyckoffConfig{
		MinBars:        50,
		RangeStart:     60,
		RangeEnd:       2,
		VolumeWindow:   19,
		MaxVolumeRatio: 1.2,
		Score:          5,
	}
}

// WyckoffSpring detects a quiet test-and-reclaim of range support
type WyckoffSpring struct {
	config WyckoffConfig
}

// NewWyckoffSpring creates the detector
func NewWyckoffSpring(cfg WyckoffConfig) *WyckoffSpring {
	return &WyckoffSpring{config: cfg}
}

func (d *WyckoffSpring) Name() string { return WyckoffSpringName }

func (d *WyckoffSpring) MinBars() int { return d.config.MinBars }

// Detect requires both the price condition and a volume ratio below the
// threshold. A spring on heavy volume is not a spring.
func (d *WyckoffSpring) Detect(candles []model.Candle) *Result {
	n := len(candles)
	if n < d.MinBars() || n <= d.config.RangeEnd || n <= d.config.VolumeWindow {
		return nil
	}

	start := n - d.config.RangeStart
	if start < 0 {
		start = 0
	}
	end := n - d.config.RangeEnd
	if end <= start {
		return nil
	}
	support := minLow(candles[start:end])

	current := candles[n-1]
	if !(current.Low < support && current.Close > support) {
		return nil
	}

	avgVol := meanVolume(candles[n-1-d.config.VolumeWindow : n-1])
	if avgVol <= 0 {
		return nil
	}
	ratio := float64(current.Volume) / avgVol
	if ratio >= d.config.MaxVolumeRatio {
		return nil
	}

	return &Result{
		Labels: []string{LabelWyckoffSpring},
		Score:  d.config.Score,
		Metrics: map[string]float64{
			"support":      support,
			"volume_ratio": ratio,
		},
	}
}
