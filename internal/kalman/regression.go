// Package kalman tracks time-varying regression coefficients with a recursive
// Kalman filter under a random-walk coefficient model.
package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-quant/internal/utils"
)

const (
	DefaultProcessNoise     = 1e-5
	DefaultObservationNoise = 1e-3
	DefaultMinVariance      = 1e-8
	DefaultEpsilon          = 1e-12
)

// Option customizes a Regression at construction time.
type Option func(*Regression)

// WithMinVariance sets the floor applied to every coefficient variance after an update.
func WithMinVariance(v float64) Option {
	return func(r *Regression) {
		r.minVariance = v
	}
}

// WithEpsilon sets the floor applied to the innovation variance.
func WithEpsilon(v float64) Option {
	return func(r *Regression) {
		r.epsilon = v
	}
}

// Regression estimates betas in target = betas·features + noise one observation
// at a time. A Regression is not safe for concurrent use.
type Regression struct {
	dimension        int
	processNoise     float64
	observationNoise float64
	minVariance      float64
	epsilon          float64

	betas      *mat.VecDense
	covariance *mat.Dense
	updates    int64
}

// NewRegression creates a filter with zero coefficients and identity covariance.
func NewRegression(dimension int, processNoise, observationNoise float64, opts ...Option) (*Regression, error) {
	if dimension < 1 {
		return nil, utils.NewInvalidInputErrorf("dimension must be at least 1, got %d", dimension)
	}
	if !nonNegative(processNoise) || !nonNegative(observationNoise) {
		return nil, utils.NewInvalidInputErrorf("noise must be finite and non-negative, got Q=%v R=%v", processNoise, observationNoise)
	}
	r := &Regression{
		dimension:        dimension,
		processNoise:     processNoise,
		observationNoise: observationNoise,
		minVariance:      DefaultMinVariance,
		epsilon:          DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !nonNegative(r.minVariance) || !(r.epsilon > 0) || math.IsInf(r.epsilon, 0) {
		return nil, utils.NewInvalidInputErrorf("invalid floors: min variance %v, epsilon %v", r.minVariance, r.epsilon)
	}
	r.Reset()
	return r, nil
}

// Reset restores the initial state: zero coefficients and identity covariance.
func (r *Regression) Reset() {
	r.betas = mat.NewVecDense(r.dimension, nil)
	r.covariance = identity(r.dimension)
	r.updates = 0
}

// Update folds one observation into the estimate and returns the innovation
// (target minus the prediction made before the update).
func (r *Regression) Update(target float64, features []float64) (float64, error) {
	if len(features) != r.dimension {
		return 0, utils.NewInvalidInputErrorf("features has length %d, filter dimension is %d", len(features), r.dimension)
	}
	x := mat.NewVecDense(r.dimension, append([]float64(nil), features...))
	p := r.covariance

	for i := 0; i < r.dimension; i++ {
		p.Set(i, i, p.At(i, i)+r.processNoise)
	}

	innovation := target - mat.Dot(r.betas, x)

	var px mat.VecDense
	px.MulVec(p, x)
	s := math.Max(mat.Dot(x, &px)+r.observationNoise, r.epsilon)

	var gain mat.VecDense
	gain.ScaleVec(1/s, &px)

	r.betas.AddScaledVec(r.betas, innovation, &gain)

	// Joseph form: (I - K x^T) P (I - K x^T)^T + R K K^T
	var kx mat.Dense
	kx.Outer(1, &gain, x)
	a := identity(r.dimension)
	a.Sub(a, &kx)

	var ap, next mat.Dense
	ap.Mul(a, p)
	next.Mul(&ap, a.T())

	var kk mat.Dense
	kk.Outer(r.observationNoise, &gain, &gain)
	next.Add(&next, &kk)

	r.covariance = stabilize(&next, r.minVariance)
	r.updates++
	return innovation, nil
}

// Predict returns betas·features without changing state.
func (r *Regression) Predict(features []float64) (float64, error) {
	if len(features) != r.dimension {
		return 0, utils.NewInvalidInputErrorf("features has length %d, filter dimension is %d", len(features), r.dimension)
	}
	return mat.Dot(r.betas, mat.NewVecDense(r.dimension, append([]float64(nil), features...))), nil
}

// Spread returns target minus the current prediction without changing state.
func (r *Regression) Spread(target float64, features []float64) (float64, error) {
	predicted, err := r.Predict(features)
	if err != nil {
		return 0, err
	}
	return target - predicted, nil
}

// Betas returns a copy of the coefficient vector.
func (r *Regression) Betas() []float64 {
	return mat.Col(nil, 0, r.betas)
}

// BetaVariances returns the diagonal of the covariance matrix.
func (r *Regression) BetaVariances() []float64 {
	out := make([]float64, r.dimension)
	for i := range out {
		out[i] = r.covariance.At(i, i)
	}
	return out
}

// Covariance returns a copy of the coefficient covariance.
func (r *Regression) Covariance() *mat.SymDense {
	out := mat.NewSymDense(r.dimension, nil)
	for i := 0; i < r.dimension; i++ {
		for j := i; j < r.dimension; j++ {
			out.SetSym(i, j, r.covariance.At(i, j))
		}
	}
	return out
}

// Dimension returns the number of features.
func (r *Regression) Dimension() int { return r.dimension }

// Updates returns the number of observations folded in since construction or Reset.
func (r *Regression) Updates() int64 { return r.updates }

// ProcessNoise returns Q.
func (r *Regression) ProcessNoise() float64 { return r.processNoise }

// ObservationNoise returns R.
func (r *Regression) ObservationNoise() float64 { return r.observationNoise }

// MinVariance returns the diagonal floor.
func (r *Regression) MinVariance() float64 { return r.minVariance }

// stabilize averages off-diagonal pairs and floors the diagonal.
func stabilize(m *mat.Dense, minVariance float64) *mat.Dense {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, avg)
			m.Set(j, i, avg)
		}
		if m.At(i, i) < minVariance {
			m.Set(i, i, minVariance)
		}
	}
	return m
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
