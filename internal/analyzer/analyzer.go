// Package analyzer scores a single ticker: indicators, signal detectors and
// the naive forecaster are merged into one AnalysisResult.
package analyzer

import (
	"fmt"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"manin/internal/forecast"
	"manin/internal/indicator"
	"manin/internal/signal"
	"manin/pkg/model"
)

// Score contributions and thresholds of the volume and trend checks
const (
	MinBars    = 30
	HistoryLen = 60

	MassiveVolumeRatio = 2.0
	MassiveVolumeScore = 2
	HighVolumeRatio    = 1.5
	HighVolumeScore    = 1
	AboveSMAScore      = 1
	ProfitableScore    = 3
)

// Labels emitted by the analyzer itself
const (
	LabelAboveSMA20     = "Above 20-SMA"
	LabelUpperBollinger = "Upper Bollinger Breakout"

	PrefixMassiveVolume = "Massive Volume"
	PrefixHighVolume    = "High Volume"
	PrefixProfitable    = "Profitable"
)

// Analyzer runs deep analysis on a price series
type Analyzer struct {
	detectors []signal.Detector
}

// New creates an analyzer. With no detectors it uses every registered one.
func New(detectors ...signal.Detector) *Analyzer {
	if len(detectors) == 0 {
		detectors = signal.All()
	}
	return &Analyzer{detectors: detectors}
}

// ProjectVolume scales a partial-session volume to a full-day estimate.
// Outside 0.1 < progress < 1 the volume is returned unchanged.
func ProjectVolume(volume int64, progress float64) float64 {
	if progress > 0.1 && progress < 1.0 {
		return float64(volume) / progress
	}
	return float64(volume)
}

// Analyze scores one ticker. It returns nil when the series is shorter than
// MinBars or when anything goes wrong during the analysis.
func (a *Analyzer) Analyze(ticker string, candles []model.Candle, f model.Fundamentals, progress float64) (res *model.AnalysisResult) {
	if len(candles) < MinBars {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("ticker", ticker).Interface("panic", r).Msg("analysis failed")
			res = nil
		}
	}()

	f = f.Normalize()
	latest := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	ind := indicator.Compute(candles)

	var (
		labels []string
		score  int
	)

	projected := ProjectVolume(latest.Volume, progress)
	volRatio := 0.0
	if avg := ind.VolumeSMA20; avg.Valid && avg.Float64 > 0 {
		volRatio = projected / avg.Float64
	}
	switch {
	case volRatio > MassiveVolumeRatio:
		labels = append(labels, fmt.Sprintf("%s (%.1fx)", PrefixMassiveVolume, volRatio))
		score += MassiveVolumeScore
	case volRatio > HighVolumeRatio:
		labels = append(labels, fmt.Sprintf("%s (%.1fx)", PrefixHighVolume, volRatio))
		score += HighVolumeScore
	}

	if ind.SMA20.Valid && latest.Close > ind.SMA20.Float64 {
		labels = append(labels, LabelAboveSMA20)
		score += AboveSMAScore
	}
	if ind.BBUpper.Valid && latest.Close > ind.BBUpper.Float64 {
		labels = append(labels, LabelUpperBollinger)
	}

	patternLabels, patternScore := signal.Aggregate(a.detectors, candles)
	labels = append(labels, patternLabels...)
	score += patternScore

	margin := 0.0
	if f.ProfitMargin.Valid {
		margin = f.ProfitMargin.Float64 * 100
	}
	profitable := margin > 0
	if profitable {
		labels = append(labels, fmt.Sprintf("%s (%.1f%%)", PrefixProfitable, margin))
		score += ProfitableScore
	}

	pred := forecast.PredictNextClose(candles, indicator.RSISeries(candles, indicator.RSIPeriod))
	price := latest.Close
	upside := 0.0
	if price != 0 {
		upside = (pred.Close - price) / price * 100
	}
	changePct := 0.0
	if prev.Close != 0 {
		changePct = (price - prev.Close) / prev.Close * 100
	}

	if labels == nil {
		labels = []string{}
	}

	res = &model.AnalysisResult{
		Ticker:       ticker,
		Price:        model.Round(price, 4),
		Predicted:    model.Round(pred.Close, 4),
		Upside:       model.Round(upside, 1),
		ChangePct:    model.Round(changePct, 2),
		Margin:       model.Round(margin, 1),
		IsProfitable: profitable,
		Score:        score,
		Signals:      labels,
		Volume:       latest.Volume,
		ProjVolume:   int64(model.Finite(projected)),
		VolumeRatio:  model.Round(volRatio, 2),
		RSI:          roundNull(ind.RSI14, 2),
		PriceHistory: priceHistory(candles, HistoryLen),
		MarketCap:    f.MarketCap,
		PE:           f.TrailingPE,
		Sector:       f.Sector,
		Industry:     f.Industry,
		YearHigh:     f.YearHigh,
		YearLow:      f.YearLow,
		Float:        f.FloatShares,
	}
	res.Reasoning = Reasoning(res)
	return res
}

func priceHistory(candles []model.Candle, n int) []model.PricePoint {
	start := len(candles) - n
	if start < 0 {
		start = 0
	}
	history := make([]model.PricePoint, 0, len(candles)-start)
	for _, c := range candles[start:] {
		history = append(history, model.PricePoint{
			Date:  c.Time.Format("2006-01-02"),
			Close: model.Round(c.Close, 2),
		})
	}
	return history
}

func roundNull(v null.Float, places int32) null.Float {
	v = model.FiniteNull(v)
	if !v.Valid {
		return v
	}
	return null.FloatFrom(model.Round(v.Float64, places))
}
