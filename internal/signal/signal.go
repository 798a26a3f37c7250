// Package signal holds the setup detectors. Each detector is a pure function
// of a daily candle series and returns nil when no setup is present or when
// the series is too short to judge.
package signal

import (
	"manin/pkg/model"
)

// Result is what a detector emits when at least one label fires
type Result struct {
	Labels  []string           `json:"labels"`
	Score   int                `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"` // informational only
}

// Detector inspects a series for one family of setups
type Detector interface {
	// Name returns the registry name
	Name() string

	// MinBars returns the shortest series the detector will judge
	MinBars() int

	// Detect returns nil for "no signal"
	Detect(candles []model.Candle) *Result
}

// Aggregate runs every detector and merges labels and scores in the given
// order. The total score does not depend on the order.
func Aggregate(detectors []Detector, candles []model.Candle) (labels []string, score int) {
	for _, d := range detectors {
		res := d.Detect(candles)
		if res == nil {
			continue
		}
		labels = append(labels, res.Labels...)
		score += res.Score
	}
	return labels, score
}

func minLow(candles []model.Candle) float64 {
	low := candles[0].Low
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

func maxHigh(candles []model.Candle) float64 {
	high := candles[0].High
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

func meanVolume(candles []model.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += float64(c.Volume)
	}
	return sum / float64(len(candles))
}
