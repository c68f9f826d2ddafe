// Package johansen implements the Johansen trace test for the cointegration rank
// of a multivariate time series.
package johansen

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/irfndi/celebrum-quant/internal/utils"
)

const (
	// maxEigenvalue keeps every eigenvalue strictly below one.
	maxEigenvalue = 1 - 1e-12
	// logFloor bounds 1-λ away from zero inside the trace statistic.
	logFloor = 1e-12
)

// Result is the outcome of one Johansen analysis.
type Result struct {
	// Eigenvalues in descending order, each in [0, 1).
	Eigenvalues []float64
	// Eigenvectors holds one candidate cointegrating vector per column, in eigenvalue order.
	Eigenvectors *mat.Dense
	// TraceStatistics[r] tests the null hypothesis that the rank is at most r.
	TraceStatistics []float64
	// ResidualsU are the short-run residuals (differences on the lagged design).
	ResidualsU *mat.Dense
	// ResidualsV are the long-run residuals (lagged levels on the lagged design).
	ResidualsV *mat.Dense
	// Observations is the effective sample size used to normalize the moments.
	Observations int
	Lags         int
	Model        DeterministicModel
}

// Series returns the number of series analyzed.
func (r *Result) Series() int {
	return len(r.Eigenvalues)
}

// CointegratingVector returns eigenvector column i normalized so that its first
// non-negligible entry equals one.
func (r *Result) CointegratingVector(i int) ([]float64, error) {
	n := r.Series()
	if i < 0 || i >= n {
		return nil, utils.NewInvalidInputErrorf("vector index %d out of range [0, %d)", i, n)
	}
	vector := mat.Col(nil, i, r.Eigenvectors)
	for _, v := range vector {
		if math.Abs(v) > 1e-15 {
			pivot := v
			for j := range vector {
				vector[j] /= pivot
			}
			break
		}
	}
	return vector, nil
}

// NewSeriesMatrix converts row-major observations into a dense matrix, rejecting ragged rows.
func NewSeriesMatrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, utils.NewInvalidInputError("series has no observations")
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, utils.NewInvalidInputError("series has no columns")
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, utils.NewInvalidInputErrorf("row %d has %d values, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// Analyze runs the Johansen procedure on series (rows are time steps, columns are
// series) with the given lag order and deterministic model. It reads series only
// and keeps no state, so concurrent calls are safe.
func Analyze(series mat.Matrix, lags int, model DeterministicModel) (*Result, error) {
	if err := validate(series, lags, model); err != nil {
		return nil, err
	}
	rows, cols := series.Dims()
	observations := rows - lags

	levels := center(series)
	diffs := difference(levels)

	// Row t of the regression (t = lags..rows-1) pairs Δx_t with x_{t-1}.
	target := mat.DenseCopyOf(diffs.Slice(lags-1, rows-1, 0, cols))
	lagged := mat.DenseCopyOf(levels.Slice(lags-1, rows-1, 0, cols))
	design := shortRunDesign(diffs, lags, observations, model)

	u := residualize(target, design)
	v := residualize(lagged, design)

	t := float64(observations)
	suu := crossMoment(u, u, t)
	svv := crossMoment(v, v, t)
	suv := crossMoment(u, v, t)

	eigenvalues, eigenvectors := solveEigenproblem(suu, svv, suv)

	return &Result{
		Eigenvalues:     eigenvalues,
		Eigenvectors:    eigenvectors,
		TraceStatistics: traceStatistics(eigenvalues, observations),
		ResidualsU:      u,
		ResidualsV:      v,
		Observations:    observations,
		Lags:            lags,
		Model:           model,
	}, nil
}

func validate(series mat.Matrix, lags int, model DeterministicModel) error {
	if series == nil {
		return utils.NewInvalidInputError("series is nil")
	}
	if lags < 1 {
		return utils.NewInvalidInputErrorf("lags must be at least 1, got %d", lags)
	}
	if !model.Valid() {
		return utils.NewInvalidInputErrorf("unknown deterministic model %d", int(model))
	}
	rows, cols := series.Dims()
	if cols < 2 {
		return utils.NewInvalidInputErrorf("at least 2 series are required, got %d", cols)
	}
	if rows < lags+2 {
		return utils.NewInvalidInputErrorf("insufficient observations: %d rows for %d lags, need at least %d", rows, lags, lags+2)
	}
	regressors := cols*(lags-1) + model.deterministicColumns()
	if rows-lags <= regressors {
		return utils.NewInvalidInputErrorf("insufficient observations: %d effective rows for %d short-run regressors", rows-lags, regressors)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := series.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return utils.NewInvalidInputErrorf("non-finite value at row %d column %d", i, j)
			}
		}
	}
	return nil
}

// shortRunDesign builds [Δx_{t-1} ... Δx_{t-lags+1} | deterministic terms] for
// t = lags..rows-1. It returns nil when there are no regressors.
func shortRunDesign(diffs *mat.Dense, lags, observations int, model DeterministicModel) *mat.Dense {
	_, cols := diffs.Dims()
	width := cols*(lags-1) + model.deterministicColumns()
	if width == 0 {
		return nil
	}
	design := mat.NewDense(observations, width, nil)
	for row := 0; row < observations; row++ {
		t := row + lags
		for j := 1; j < lags; j++ {
			// Δx_{t-j} is diffs row t-j-1.
			src := t - j - 1
			for c := 0; c < cols; c++ {
				design.Set(row, (j-1)*cols+c, diffs.At(src, c))
			}
		}
		offset := cols * (lags - 1)
		switch model {
		case Model1, Model2:
			design.Set(row, offset, 1)
		case Model3, Model4:
			design.Set(row, offset, 1)
			design.Set(row, offset+1, float64(row+1))
		}
	}
	return design
}

// solveEigenproblem solves |λ Svv - Svu Suu^{-1} Suv| = 0 by whitening both
// moment matrices and taking the SVD of the whitened cross moment. A direction
// in which Svv vanishes is an exact linear relation among the lagged levels, so
// it is returned as an eigenvector with the largest admissible eigenvalue.
func solveEigenproblem(suu, svv, suv *mat.Dense) ([]float64, *mat.Dense) {
	n, _ := svv.Dims()
	whiten, null := whitenRange(svv)
	if whiten == nil {
		return make([]float64, n), mat.NewDense(n, n, nil)
	}

	eigen := make([]float64, 0, n)
	columns := make([][]float64, 0, n)
	if null != nil {
		_, m := null.Dims()
		for j := 0; j < m; j++ {
			eigen = append(eigen, maxEigenvalue)
			columns = append(columns, mat.Col(nil, j, null))
		}
	}

	_, k := whiten.Dims()
	var left, whitened mat.Dense
	left.Mul(whiten.T(), suv.T())
	whitened.Mul(&left, inverseSqrt(suu))

	var svd mat.SVD
	if svd.Factorize(&whitened, mat.SVDThin) {
		singular := svd.Values(nil)
		var u, vectors mat.Dense
		svd.UTo(&u)
		vectors.Mul(whiten, &u)
		for i := 0; i < k; i++ {
			lambda := 0.0
			if i < len(singular) {
				lambda = singular[i] * singular[i]
			}
			eigen = append(eigen, math.Min(math.Max(lambda, 0), maxEigenvalue))
			columns = append(columns, mat.Col(nil, i, &vectors))
		}
	} else {
		for i := 0; i < k; i++ {
			eigen = append(eigen, 0)
			columns = append(columns, make([]float64, n))
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return eigen[order[a]] > eigen[order[b]]
	})

	values := make([]float64, n)
	sorted := mat.NewDense(n, n, nil)
	for dst, src := range order {
		values[dst] = eigen[src]
		sorted.SetCol(dst, columns[src])
	}
	return values, sorted
}

// traceStatistics computes -T Σ_{i≥r} ln(1-λ_i) for r = 0..n-1.
func traceStatistics(eigenvalues []float64, observations int) []float64 {
	n := len(eigenvalues)
	stats := make([]float64, n)
	t := float64(observations)
	var tail float64
	for r := n - 1; r >= 0; r-- {
		tail += math.Log(math.Max(1-eigenvalues[r], logFloor))
		stats[r] = -t * tail
	}
	return stats
}
