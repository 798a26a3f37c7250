package forecast

import (
	"github.com/guregu/null/v6"

	"manin/pkg/model"
)

// Prediction is the outcome of PredictNextClose
type Prediction struct {
	Close    float64
	Fallback bool // true when the fit failed and Close is the current close
	Rows     int  // training rows used
	UsesRSI  bool
}

// PredictNextClose fits next-day close against same-day [Open, High, Low,
// Volume, RSI14] and evaluates the fit on the latest bar. RSI is a feature
// only when rsi is aligned with candles and the latest value is defined;
// training rows then require a defined RSI as well. On any degenerate case
// the current close is returned with Fallback set.
func PredictNextClose(candles []model.Candle, rsi []null.Float) Prediction {
	if len(candles) == 0 {
		return Prediction{Fallback: true}
	}
	last := candles[len(candles)-1]
	fallback := Prediction{Close: last.Close, Fallback: true}

	useRSI := len(rsi) == len(candles) && rsi[len(rsi)-1].Valid

	var x [][]float64
	var y []float64
	for i := 0; i < len(candles)-1; i++ {
		if useRSI && !rsi[i].Valid {
			continue
		}
		x = append(x, features(candles[i], rsi, i, useRSI))
		y = append(y, candles[i+1].Close)
	}
	if len(y) < 2 {
		return fallback
	}

	m, err := Fit(x, y)
	if err != nil {
		return fallback
	}

	pred := m.Predict(features(last, rsi, len(candles)-1, useRSI))
	if model.Finite(pred) != pred {
		return fallback
	}
	return Prediction{Close: pred, Rows: len(y), UsesRSI: useRSI}
}

func features(c model.Candle, rsi []null.Float, i int, useRSI bool) []float64 {
	f := []float64{c.Open, c.High, c.Low, float64(c.Volume)}
	if useRSI {
		f = append(f, rsi[i].Float64)
	}
	return f
}
