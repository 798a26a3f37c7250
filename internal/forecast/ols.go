// Package forecast implements the naive next-close model: an ordinary least
// squares fit with intercept over same-day features, evaluated on the
// latest bar. It is an overfit single-ticker fit and is not validated.
package forecast

import (
	"errors"
	"math"
)

// ErrSingular is returned when the design matrix is rank deficient
var ErrSingular = errors.New("singular design matrix")

// ErrTooFewRows is returned when there are fewer than two usable rows
var ErrTooFewRows = errors.New("too few rows")

const singularTol = 1e-10

// Model is a fitted linear model y = Intercept + Σ Weights[j]·x[j]
type Model struct {
	Intercept float64
	Weights   []float64
}

// Predict evaluates the model on one feature vector
func (m *Model) Predict(x []float64) float64 {
	y := m.Intercept
	for j, w := range m.Weights {
		if j < len(x) {
			y += w * x[j]
		}
	}
	return y
}

// Fit solves ordinary least squares with an intercept. Columns are centred
// and scaled before a Householder QR solve; constant columns get a zero
// weight. The result is deterministic for identical input.
func Fit(x [][]float64, y []float64) (*Model, error) {
	n := len(y)
	if n < 2 || len(x) != n {
		return nil, ErrTooFewRows
	}
	p := len(x[0])
	for _, row := range x {
		if len(row) != p {
			return nil, errors.New("ragged feature matrix")
		}
	}

	yMean := mean(y)
	xMean := make([]float64, p)
	xScale := make([]float64, p)
	var active []int
	for j := 0; j < p; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += x[i][j]
		}
		xMean[j] = sum / float64(n)

		var ss float64
		for i := 0; i < n; i++ {
			d := x[i][j] - xMean[j]
			ss += d * d
		}
		xScale[j] = math.Sqrt(ss / float64(n))
		if xScale[j] > 0 && !math.IsNaN(xScale[j]) && !math.IsInf(xScale[j], 0) {
			active = append(active, j)
		}
	}

	model := &Model{Weights: make([]float64, p)}
	if len(active) == 0 {
		model.Intercept = yMean
		return model, nil
	}
	if len(active) > n {
		return nil, ErrSingular
	}

	// a is n×k, column-major for the active features
	k := len(active)
	a := make([][]float64, k)
	for c, j := range active {
		col := make([]float64, n)
		for i := 0; i < n; i++ {
			col[i] = (x[i][j] - xMean[j]) / xScale[j]
		}
		a[c] = col
	}
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		b[i] = y[i] - yMean
	}

	beta, err := solveQR(a, b, n)
	if err != nil {
		return nil, err
	}

	intercept := yMean
	for c, j := range active {
		w := beta[c] / xScale[j]
		model.Weights[j] = w
		intercept -= w * xMean[j]
	}
	model.Intercept = intercept

	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return nil, ErrSingular
	}
	return model, nil
}

// solveQR solves min ||A·beta - b|| with Householder reflections.
// a holds the columns of A and is overwritten, as is b.
func solveQR(a [][]float64, b []float64, n int) ([]float64, error) {
	k := len(a)
	diag := make([]float64, k)

	var maxNorm float64
	for c := 0; c < k; c++ {
		if norm := colNorm(a[c], 0); norm > maxNorm {
			maxNorm = norm
		}
	}

	for c := 0; c < k; c++ {
		norm := colNorm(a[c], c)
		if norm <= singularTol*maxNorm {
			return nil, ErrSingular
		}
		alpha := -norm
		if a[c][c] < 0 {
			alpha = norm
		}

		// v = a[c][c:] - alpha·e1, stored in place
		a[c][c] -= alpha
		vNorm2 := 0.0
		for i := c; i < n; i++ {
			vNorm2 += a[c][i] * a[c][i]
		}
		if vNorm2 == 0 {
			return nil, ErrSingular
		}

		for cc := c + 1; cc < k; cc++ {
			applyReflection(a[c], a[cc], c, n, vNorm2)
		}
		applyReflection(a[c], b, c, n, vNorm2)
		diag[c] = alpha
	}

	beta := make([]float64, k)
	for c := k - 1; c >= 0; c-- {
		sum := b[c]
		for cc := c + 1; cc < k; cc++ {
			sum -= a[cc][c] * beta[cc]
		}
		beta[c] = sum / diag[c]
	}
	return beta, nil
}

func applyReflection(v, target []float64, from, n int, vNorm2 float64) {
	var dot float64
	for i := from; i < n; i++ {
		dot += v[i] * target[i]
	}
	f := 2 * dot / vNorm2
	for i := from; i < n; i++ {
		target[i] -= f * v[i]
	}
}

func colNorm(col []float64, from int) float64 {
	var ss float64
	for i := from; i < len(col); i++ {
		ss += col[i] * col[i]
	}
	return math.Sqrt(ss)
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
