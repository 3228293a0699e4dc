// Package factors defines the residual models of the calibration graph:
// vector priors, the gravity-magnitude constraint, the measured-pose terms
// tying navigation states to the extrinsic calibration, and the preintegrated
// inertial term tying consecutive states to gravity.
package factors

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/nlls"
)

// Prior pins an additive variable to a fixed mean with independent sigmas.
type Prior struct {
	Key  nlls.Key
	mean []float64
	info *mat.SymDense
}

// NewPrior builds a prior over a Scalar or Vec3 variable. mean and sigmas
// must have the variable's dimension.
func NewPrior(key nlls.Key, mean, sigmas []float64) *Prior {
	if len(mean) != len(sigmas) {
		panic("factors: prior mean/sigma length mismatch")
	}
	return &Prior{Key: key, mean: append([]float64(nil), mean...), info: diagInfo(sigmas)}
}

func (p *Prior) Keys() []nlls.Key { return []nlls.Key{p.Key} }

func (p *Prior) Dim() int { return len(p.mean) }

func (p *Prior) Linearize(vals *nlls.Values) (nlls.Linearization, error) {
	x := flatten(vals.At(p.Key))
	if len(x) != len(p.mean) {
		panic(fmt.Sprintf("factors: prior dimension %d over variable of dimension %d", len(p.mean), len(x)))
	}
	n := len(x)
	resid := mat.NewVecDense(n, nil)
	jac := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		resid.SetVec(i, x[i]-p.mean[i])
		jac.Set(i, i, 1)
	}
	return nlls.Linearization{Resid: resid, Jac: []*mat.Dense{jac}, Info: p.info}, nil
}

// GravityMagnitude constrains the norm of a Vec3 unknown to a fixed value.
type GravityMagnitude struct {
	Key  nlls.Key
	mag  float64
	info *mat.SymDense
}

// NewGravityMagnitude builds the norm constraint with the given sigma.
func NewGravityMagnitude(key nlls.Key, mag, sigma float64) *GravityMagnitude {
	return &GravityMagnitude{Key: key, mag: mag, info: diagInfo([]float64{sigma})}
}

func (g *GravityMagnitude) Keys() []nlls.Key { return []nlls.Key{g.Key} }

func (g *GravityMagnitude) Dim() int { return 1 }

func (g *GravityMagnitude) Linearize(vals *nlls.Values) (nlls.Linearization, error) {
	v := vals.At(g.Key).(nav.Vec3).V
	n := v.Norm()

	resid := mat.NewVecDense(1, []float64{n - g.mag})
	jac := mat.NewDense(1, 3, nil)
	if n > 0 {
		jac.Set(0, 0, v.X/n)
		jac.Set(0, 1, v.Y/n)
		jac.Set(0, 2, v.Z/n)
	}
	return nlls.Linearization{Resid: resid, Jac: []*mat.Dense{jac}, Info: g.info}, nil
}

// flatten returns the plain-vector form of an additive variable.
func flatten(v nlls.Variable) []float64 {
	switch x := v.(type) {
	case nav.Scalar:
		return []float64{x.V}
	case nav.Vec3:
		return []float64{x.V.X, x.V.Y, x.V.Z}
	default:
		panic(fmt.Sprintf("factors: variable %T has no vector form", v))
	}
}

func diagInfo(sigmas []float64) *mat.SymDense {
	m := mat.NewSymDense(len(sigmas), nil)
	for i, s := range sigmas {
		m.SetSym(i, i, 1/(s*s))
	}
	return m
}

func setBlock(dst *mat.Dense, r, c int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r+i, c+j, src.At(i, j))
		}
	}
}

func setDiag(dst *mat.Dense, r, c int, v float64) {
	for i := 0; i < 3; i++ {
		dst.Set(r+i, c+i, v)
	}
}

func scaled(f float64, m mat.Matrix) mat.Matrix {
	var s mat.Dense
	s.Scale(f, m)
	return &s
}
