// Package randeff holds the covariance structures of the random effects:
// OMEGA for between-subject ETAs and SIGMA for residual EPS terms.
package randeff

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pksim/internal/dynamo"
)

// eigTol is the relative tolerance below which a negative eigenvalue is
// treated as rounding noise on a singular matrix.
const eigTol = 1e-10

// Matrix is a validated symmetric positive semi-definite covariance matrix.
type Matrix struct {
	sym    *mat.SymDense
	factor *mat.Dense
	name   string
}

// FromBlock builds a matrix from its lower triangle given row by row:
// (1,1) (2,1) (2,2) (3,1) (3,2) (3,3) ... When correlation is set the
// off-diagonal values are correlations rather than covariances.
func FromBlock(name string, values []float64, correlation bool) (*Matrix, error) {
	if len(values) == 0 {
		return nil, &dynamo.ConfigError{Field: name, Reason: "no values"}
	}
	n, ok := triangularDim(len(values))
	if !ok {
		return nil, &dynamo.ConfigError{
			Field:  name,
			Reason: fmt.Sprintf("%d values do not form a lower triangle", len(values)),
		}
	}

	sym := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, values[k])
			k++
		}
	}

	if correlation {
		if err := correlationToCovariance(name, sym); err != nil {
			return nil, err
		}
	}
	return newMatrix(name, sym)
}

// Diagonal builds a matrix of independent variances.
func Diagonal(name string, variances []float64) (*Matrix, error) {
	if len(variances) == 0 {
		return nil, &dynamo.ConfigError{Field: name, Reason: "no values"}
	}
	sym := mat.NewSymDense(len(variances), nil)
	for i, v := range variances {
		sym.SetSym(i, i, v)
	}
	return newMatrix(name, sym)
}

func newMatrix(name string, sym *mat.SymDense) (*Matrix, error) {
	n := sym.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			v := sym.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &dynamo.ConfigError{Field: name, Reason: fmt.Sprintf("entry (%d,%d) is not finite", i+1, j+1)}
			}
		}
		if sym.At(i, i) < 0 {
			return nil, &dynamo.ConfigError{Field: name, Reason: fmt.Sprintf("variance %d is negative (%g)", i+1, sym.At(i, i))}
		}
	}

	m := &Matrix{sym: sym, name: name}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, &dynamo.ConfigError{Field: name, Reason: "eigendecomposition failed"}
	}
	values := eig.Values(nil)

	scale := 0.0
	for _, v := range values {
		scale = math.Max(scale, math.Abs(v))
	}
	for _, v := range values {
		if v < -eigTol*math.Max(scale, 1) {
			return nil, &dynamo.ConfigError{Field: name, Reason: fmt.Sprintf("not positive semi-definite (eigenvalue %g)", v)}
		}
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// factor = V * diag(sqrt(lambda)) so that factor * factor^T = sym
	factor := mat.NewDense(n, n, nil)
	for j, v := range values {
		s := math.Sqrt(math.Max(v, 0))
		for i := 0; i < n; i++ {
			factor.Set(i, j, vecs.At(i, j)*s)
		}
	}
	m.factor = factor
	return m, nil
}

func correlationToCovariance(name string, sym *mat.SymDense) error {
	n := sym.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			r := sym.At(i, j)
			if r < -1 || r > 1 {
				return &dynamo.ConfigError{Field: name, Reason: fmt.Sprintf("correlation (%d,%d)=%g outside [-1, 1]", i+1, j+1, r)}
			}
			vi, vj := sym.At(i, i), sym.At(j, j)
			if vi < 0 || vj < 0 {
				return &dynamo.ConfigError{Field: name, Reason: "negative variance on the diagonal"}
			}
			sym.SetSym(i, j, r*math.Sqrt(vi*vj))
		}
	}
	return nil
}

func triangularDim(count int) (int, bool) {
	n := 0
	for n*(n+1)/2 < count {
		n++
	}
	return n, n*(n+1)/2 == count
}

func (m *Matrix) Name() string { return m.name }

func (m *Matrix) Dim() int { return m.sym.SymmetricDim() }

func (m *Matrix) At(i, j int) float64 { return m.sym.At(i, j) }

func (m *Matrix) Variance(i int) float64 { return m.sym.At(i, i) }

// Zero reports whether every entry is zero, i.e. draws are always zero.
func (m *Matrix) Zero() bool {
	n := m.Dim()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if m.sym.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// LowerTriangular returns the covariance entries in block order.
func (m *Matrix) LowerTriangular() []float64 {
	n := m.Dim()
	out := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			out = append(out, m.sym.At(i, j))
		}
	}
	return out
}

// Draw samples N(0, M) into dst, allocating when dst is too short.
func (m *Matrix) Draw(rng *rand.Rand, dst []float64) []float64 {
	n := m.Dim()
	if len(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	z := make([]float64, n)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	for i := 0; i < n; i++ {
		acc := 0.0
		for j := 0; j < n; j++ {
			acc += m.factor.At(i, j) * z[j]
		}
		dst[i] = acc
	}
	return dst
}
