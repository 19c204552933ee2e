// Package kalman implements a linear Kalman filter on gonum matrices.
package kalman

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Filter is a linear Kalman filter with state X and covariance P. F is the
// state transition, H the measurement function, R the measurement noise
// and Q the process noise. New fills them with identity matrices (zero for
// H) which callers replace before use.
type Filter struct {
	X *mat.VecDense
	P *mat.Dense
	F *mat.Dense
	H *mat.Dense
	R *mat.Dense
	Q *mat.Dense

	dimX int
	dimZ int
}

func New(dimX, dimZ int) *Filter {
	return &Filter{
		X:    mat.NewVecDense(dimX, nil),
		P:    Identity(dimX),
		F:    Identity(dimX),
		H:    mat.NewDense(dimZ, dimX, nil),
		R:    Identity(dimZ),
		Q:    Identity(dimX),
		dimX: dimX,
		dimZ: dimZ,
	}
}

// Identity returns an n×n identity matrix.
func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Predict propagates the state and covariance one step through F.
func (f *Filter) Predict() {
	var x mat.VecDense
	x.MulVec(f.F, f.X)

	var fp, p mat.Dense
	fp.Mul(f.F, f.P)
	p.Mul(&fp, f.F.T())
	p.Add(&p, f.Q)

	f.X = &x
	f.P = &p
}

// Update corrects the state with measurement z. The covariance is updated
// in Joseph form and symmetrised so it stays valid over many cycles.
func (f *Filter) Update(z []float64) error {
	if len(z) != f.dimZ {
		return errors.Errorf("measurement has %d values, filter expects %d", len(z), f.dimZ)
	}

	var hx, y mat.VecDense
	hx.MulVec(f.H, f.X)
	y.SubVec(mat.NewVecDense(f.dimZ, z), &hx)

	var pht, s mat.Dense
	pht.Mul(f.P, f.H.T())
	s.Mul(f.H, &pht)
	s.Add(&s, f.R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return errors.Wrap(err, "unable to invert innovation covariance")
	}

	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&k, &y)
	x.AddVec(f.X, &ky)

	var kh mat.Dense
	kh.Mul(&k, f.H)
	ikh := Identity(f.dimX)
	ikh.Sub(ikh, &kh)

	var a, p, kr, krk mat.Dense
	a.Mul(ikh, f.P)
	p.Mul(&a, ikh.T())
	kr.Mul(&k, f.R)
	krk.Mul(&kr, k.T())
	p.Add(&p, &krk)
	symmetrize(&p)

	f.X = &x
	f.P = &p
	return nil
}

// State returns a copy of the state vector.
func (f *Filter) State() []float64 {
	return mat.Col(nil, 0, f.X)
}

// SetState overwrites one state component.
func (f *Filter) SetState(i int, v float64) {
	f.X.SetVec(i, v)
}

// Covariance returns a copy of P.
func (f *Filter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.P)
}

// Valid reports whether P is finite and symmetric.
func (f *Filter) Valid() bool {
	r, c := f.P.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := f.P.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
			if math.Abs(v-f.P.At(j, i)) > 1e-9*math.Max(1, math.Abs(v)) {
				return false
			}
		}
	}
	return true
}

func symmetrize(m *mat.Dense) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}
