package johansen

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// eigenClipRatio is the relative size below which an eigenvalue of a moment
	// matrix is treated as zero when forming its inverse square root.
	eigenClipRatio = 1e-12
	// rankTolerance is the rcond used when the QR solve falls back to SVD.
	rankTolerance = 1e-12
)

// center subtracts each column's mean.
func center(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		mean := sum / float64(rows)
		for i := 0; i < rows; i++ {
			out.Set(i, j, m.At(i, j)-mean)
		}
	}
	return out
}

// difference returns the row-wise first difference; row i is m[i+1] - m[i].
func difference(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	var d mat.Dense
	d.Sub(m.Slice(1, rows, 0, cols), m.Slice(0, rows-1, 0, cols))
	return &d
}

// residualize regresses y on z and returns the residuals. A nil design returns a copy of y.
func residualize(y, z *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(y)
	if z == nil {
		return out
	}
	beta := leastSquares(z, y)
	var fitted mat.Dense
	fitted.Mul(z, beta)
	out.Sub(out, &fitted)
	return out
}

// leastSquares solves min ||z*b - y|| with QR, falling back to a minimum-norm
// SVD solve when z is rank deficient. A factorization failure yields b = 0.
func leastSquares(z, y *mat.Dense) *mat.Dense {
	_, k := z.Dims()
	_, m := y.Dims()

	var qr mat.QR
	qr.Factorize(z)
	var b mat.Dense
	if err := qr.SolveTo(&b, false, y); err == nil {
		return &b
	}

	var svd mat.SVD
	if !svd.Factorize(z, mat.SVDThin) {
		return mat.NewDense(k, m, nil)
	}
	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		return mat.NewDense(k, m, nil)
	}
	var minNorm mat.Dense
	svd.SolveTo(&minNorm, y, rank)
	return &minNorm
}

// crossMoment returns a^T b / n.
func crossMoment(a, b *mat.Dense, n float64) *mat.Dense {
	var out mat.Dense
	out.Mul(a.T(), b)
	out.Scale(1/n, &out)
	return &out
}

// symmetric copies the symmetric part of a square matrix.
func symmetric(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// inverseSqrt returns S^{-1/2} through a symmetric eigendecomposition. Directions
// whose eigenvalue is negligible relative to the largest get a zero inverse root.
func inverseSqrt(m *mat.Dense) *mat.Dense {
	n, _ := m.Dims()
	var es mat.EigenSym
	if !es.Factorize(symmetric(m), true) {
		return mat.NewDense(n, n, nil)
	}
	values := es.Values(nil)
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	largest := 0.0
	for _, v := range values {
		largest = math.Max(largest, v)
	}
	cutoff := largest * eigenClipRatio

	scale := make([]float64, n)
	for i, v := range values {
		if v > cutoff && v > 0 {
			scale[i] = 1 / math.Sqrt(v)
		}
	}

	var scaled mat.Dense
	scaled.Mul(&vectors, mat.NewDiagDense(n, scale))
	var out mat.Dense
	out.Mul(&scaled, vectors.T())
	return &out
}

// whitenRange splits a symmetric moment matrix S = V D V^T into its range and
// its null space. whiten is the n×k matrix V_r D_r^{-1/2} over the k directions
// above the clip threshold; null holds unit vectors for the remaining ones.
// Both are nil when S is zero or cannot be factorized.
func whitenRange(m *mat.Dense) (whiten, null *mat.Dense) {
	n, _ := m.Dims()
	var es mat.EigenSym
	if !es.Factorize(symmetric(m), true) {
		return nil, nil
	}
	values := es.Values(nil)
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	largest := 0.0
	for _, v := range values {
		largest = math.Max(largest, v)
	}
	if largest <= 0 {
		return nil, nil
	}
	cutoff := largest * eigenClipRatio

	var keep, drop []int
	for i, v := range values {
		if v > cutoff {
			keep = append(keep, i)
		} else {
			drop = append(drop, i)
		}
	}

	whiten = mat.NewDense(n, len(keep), nil)
	for c, i := range keep {
		scale := 1 / math.Sqrt(values[i])
		for r := 0; r < n; r++ {
			whiten.Set(r, c, vectors.At(r, i)*scale)
		}
	}
	if len(drop) > 0 {
		null = mat.NewDense(n, len(drop), nil)
		for c, i := range drop {
			null.SetCol(c, mat.Col(nil, i, &vectors))
		}
	}
	return whiten, null
}
