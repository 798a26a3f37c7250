// Package indicator computes trailing-window technical indicators over daily
// candles. Every value is optional: a window longer than the series yields an
// invalid null.Float instead of zero.
package indicator

import (
	"math"

	"github.com/guregu/null/v6"

	"manin/pkg/model"
)

const (
	RSIPeriod       = 14
	BollingerPeriod = 20
	BollingerK      = 2.0
	VolumePeriod    = 20
)

// Set holds the latest value of each indicator
type Set struct {
	RSI14       null.Float
	SMA20       null.Float
	SMA50       null.Float
	SMA200      null.Float
	BBUpper     null.Float
	BBMiddle    null.Float
	BBLower     null.Float
	VolumeSMA20 null.Float
}

// SMA calculates the simple moving average of Close over the last period bars
func SMA(candles []model.Candle, period int) null.Float {
	if period < 1 || len(candles) < period {
		return null.Float{}
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return null.FloatFrom(sum / float64(period))
}

// VolumeSMA calculates the mean volume over the last period bars
func VolumeSMA(candles []model.Candle, period int) null.Float {
	if period < 1 || len(candles) < period {
		return null.Float{}
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += float64(candles[i].Volume)
	}
	return null.FloatFrom(sum / float64(period))
}

// Bollinger returns the upper, middle and lower bands using population
// standard deviation.
func Bollinger(candles []model.Candle, period int, k float64) (upper, middle, lower null.Float) {
	mid := SMA(candles, period)
	if !mid.Valid {
		return null.Float{}, null.Float{}, null.Float{}
	}

	var sumSquares float64
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - mid.Float64
		sumSquares += diff * diff
	}
	std := math.Sqrt(sumSquares / float64(period))

	return null.FloatFrom(mid.Float64 + k*std), mid, null.FloatFrom(mid.Float64 - k*std)
}

// RSISeries returns Wilder's RSI aligned with candles. The first period
// entries are invalid. The first average is a simple mean of the first
// period changes, subsequent averages use Wilder smoothing.
func RSISeries(candles []model.Candle, period int) []null.Float {
	out := make([]null.Float, len(candles))
	if period < 1 || len(candles) < period+1 {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = null.FloatFrom(rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = null.FloatFrom(rsiValue(avgGain, avgLoss))
	}

	return out
}

// RSI returns the latest Wilder RSI value
func RSI(candles []model.Candle, period int) null.Float {
	series := RSISeries(candles, period)
	if len(series) == 0 {
		return null.Float{}
	}
	return series[len(series)-1]
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // flat series
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Compute calculates every indicator at the latest bar. The input slice is
// not modified.
func Compute(candles []model.Candle) Set {
	var s Set
	s.RSI14 = RSI(candles, RSIPeriod)
	s.SMA20 = SMA(candles, 20)
	s.SMA50 = SMA(candles, 50)
	s.SMA200 = SMA(candles, 200)
	s.BBUpper, s.BBMiddle, s.BBLower = Bollinger(candles, BollingerPeriod, BollingerK)
	s.VolumeSMA20 = VolumeSMA(candles, VolumePeriod)
	return s
}
