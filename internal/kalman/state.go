package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-quant/internal/utils"
)

// State is a serializable snapshot of a Regression.
type State struct {
	Dimension        int         `json:"dimension"`
	ProcessNoise     float64     `json:"process_noise"`
	ObservationNoise float64     `json:"observation_noise"`
	Betas            []float64   `json:"betas"`
	Covariance       [][]float64 `json:"covariance"`
	Updates          int64       `json:"updates"`
}

// State captures the current coefficients and covariance.
func (r *Regression) State() State {
	cov := make([][]float64, r.dimension)
	for i := range cov {
		cov[i] = mat.Row(nil, i, r.covariance)
	}
	return State{
		Dimension:        r.dimension,
		ProcessNoise:     r.processNoise,
		ObservationNoise: r.observationNoise,
		Betas:            r.Betas(),
		Covariance:       cov,
		Updates:          r.updates,
	}
}

// Restore replaces the filter state with s. The snapshot must match the filter's
// dimension and carry a finite symmetric covariance.
func (r *Regression) Restore(s State) error {
	if s.Dimension != r.dimension || len(s.Betas) != r.dimension || len(s.Covariance) != r.dimension {
		return utils.NewInvalidInputErrorf("state dimension %d does not match filter dimension %d", s.Dimension, r.dimension)
	}
	betas := mat.NewVecDense(r.dimension, nil)
	cov := mat.NewDense(r.dimension, r.dimension, nil)
	for i := 0; i < r.dimension; i++ {
		if !finite(s.Betas[i]) {
			return utils.NewInvalidInputErrorf("beta %d is not finite", i)
		}
		betas.SetVec(i, s.Betas[i])
		if len(s.Covariance[i]) != r.dimension {
			return utils.NewInvalidInputErrorf("covariance row %d has %d entries", i, len(s.Covariance[i]))
		}
		for j, v := range s.Covariance[i] {
			if !finite(v) {
				return utils.NewInvalidInputErrorf("covariance entry (%d,%d) is not finite", i, j)
			}
			cov.Set(i, j, v)
		}
	}
	r.betas = betas
	r.covariance = stabilize(cov, r.minVariance)
	r.updates = s.Updates
	return nil
}

// NewRegressionFromState builds a filter with the noise parameters recorded in s
// and restores its coefficients and covariance.
func NewRegressionFromState(s State, opts ...Option) (*Regression, error) {
	r, err := NewRegression(s.Dimension, s.ProcessNoise, s.ObservationNoise, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Restore(s); err != nil {
		return nil, err
	}
	return r, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
