// Package nlls implements a small factor-graph nonlinear least-squares layer:
// keyed manifold variables, factors that linearize to residuals and Jacobians,
// and a Levenberg-Marquardt optimizer over the resulting normal equations.
package nlls

import (
	"gonum.org/v1/gonum/mat"
)

// Linearization is a factor evaluated at one assignment: the residual r, one
// Jacobian block per key in Keys() order, and the residual information matrix
// (inverse measurement covariance). A nil Info means identity. The factor
// contributes 0.5 * r' * Info * r to the graph error.
type Linearization struct {
	Resid *mat.VecDense
	Jac   []*mat.Dense
	Info  *mat.SymDense
}

// Factor is one measurement term over a fixed set of keys.
type Factor interface {
	// Keys lists the unknowns this factor constrains, in Jacobian order.
	Keys() []Key
	// Dim is the residual dimension.
	Dim() int
	// Linearize evaluates the residual and Jacobians at vals.
	Linearize(vals *Values) (Linearization, error)
}

// Graph is an ordered collection of factors over shared keys.
type Graph struct {
	factors []Factor
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Add appends a factor.
func (g *Graph) Add(f Factor) {
	g.factors = append(g.factors, f)
}

// Factors returns the factors in insertion order.
func (g *Graph) Factors() []Factor {
	return g.factors
}

// Len returns the number of factors.
func (g *Graph) Len() int {
	return len(g.factors)
}

// Dim returns the summed residual dimension of all factors.
func (g *Graph) Dim() int {
	d := 0
	for _, f := range g.factors {
		d += f.Dim()
	}
	return d
}

// Error evaluates the total graph error 0.5 * sum r' * Info * r at vals.
func (g *Graph) Error(vals *Values) (float64, error) {
	total := 0.0
	for _, f := range g.factors {
		lin, err := f.Linearize(vals)
		if err != nil {
			return 0, err
		}
		total += residualError(lin)
	}
	return total, nil
}

// residualError is one factor's contribution to the graph error.
func residualError(lin Linearization) float64 {
	if lin.Info == nil {
		return 0.5 * mat.Dot(lin.Resid, lin.Resid)
	}
	n := lin.Resid.Len()
	wr := mat.NewVecDense(n, nil)
	wr.MulVec(lin.Info, lin.Resid)
	return 0.5 * mat.Dot(lin.Resid, wr)
}
