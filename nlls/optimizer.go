package nlls

import (
	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/mat"
)

// Params tune the Levenberg-Marquardt loop. The error tolerances compare
// successive accepted errors; with very small values the loop runs until
// MaxIterations or until no damped step decreases the error.
type Params struct {
	MaxIterations int
	AbsErrTol     float64
	RelErrTol     float64
	LambdaInit    float64
	LambdaFactor  float64
	LambdaUpper   float64
}

// DefaultParams returns the solver settings used by the calibration pipeline.
func DefaultParams() Params {
	return Params{
		MaxIterations: 20,
		AbsErrTol:     1e-30,
		RelErrTol:     1e-30,
		LambdaInit:    1e-5,
		LambdaFactor:  10,
		LambdaUpper:   1e20,
	}
}

// Report summarizes one Optimize call. Converged reports whether an error
// tolerance was met; hitting MaxIterations or exhausting lambda leaves it
// false without making the call fail.
type Report struct {
	Iterations   int
	InitialError float64
	FinalError   float64
	Converged    bool
}

// Optimizer minimizes a Graph's error by damped Gauss-Newton steps on the
// normal equations, retracting each step on the variables' manifolds.
type Optimizer struct {
	params Params
	log    golog.Logger
}

// NewOptimizer returns an optimizer with the given settings. A nil logger
// falls back to a development logger.
func NewOptimizer(params Params, log golog.Logger) *Optimizer {
	if log == nil {
		log = golog.NewDevelopmentLogger("nlls")
	}
	return &Optimizer{params: params, log: log}
}

// Optimize iterates from initial until convergence, MaxIterations accepted
// steps, or lambda exhaustion, and returns the best assignment found. The
// returned error is reserved for structural failures such as a factor that
// cannot linearize at the initial assignment.
func (o *Optimizer) Optimize(g *Graph, initial *Values) (*Values, Report, error) {
	ord := buildOrdering(g, initial)
	if ord.dim == 0 {
		e, err := g.Error(initial)
		if err != nil {
			return nil, Report{}, err
		}
		return initial.Copy(), Report{InitialError: e, FinalError: e, Converged: true}, nil
	}

	vals := initial.Copy()
	hess, grad, errVal, err := linearizeAll(g, vals, ord)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{InitialError: errVal}
	lambda := o.params.LambdaInit

	for report.Iterations < o.params.MaxIterations {
		accepted := false
		for lambda <= o.params.LambdaUpper {
			dx, ok := solveDamped(hess, grad, lambda)
			if ok {
				cand := retractAll(vals, dx, ord)
				candHess, candGrad, candErr, lerr := linearizeAll(g, cand, ord)
				// A candidate that cannot linearize (for example a time shift
				// past the measurement span) is rejected like an uphill step.
				if lerr == nil && candErr < errVal {
					prev := errVal
					vals, hess, grad, errVal = cand, candHess, candGrad, candErr
					lambda /= o.params.LambdaFactor
					accepted = true
					report.Iterations++
					o.log.Debugf("iteration %d: error %.6e -> %.6e (lambda %.1e)",
						report.Iterations, prev, errVal, lambda)
					if prev-errVal < o.params.AbsErrTol ||
						(prev > 0 && (prev-errVal)/prev < o.params.RelErrTol) {
						report.Converged = true
					}
					break
				}
			}
			lambda *= o.params.LambdaFactor
		}
		if !accepted {
			o.log.Debugf("no decreasing step at lambda %.1e, stopping", lambda)
			break
		}
		if report.Converged {
			break
		}
	}

	report.FinalError = errVal
	return vals, report, nil
}

// ordering assigns each key touched by the graph a contiguous tangent-space
// slice. Keys present in the values but referenced by no factor stay fixed.
type ordering struct {
	keys   []Key
	offset map[Key]int
	dim    int
}

func buildOrdering(g *Graph, vals *Values) ordering {
	ord := ordering{offset: make(map[Key]int)}
	for _, f := range g.Factors() {
		for _, k := range f.Keys() {
			if _, seen := ord.offset[k]; seen {
				continue
			}
			ord.offset[k] = ord.dim
			ord.keys = append(ord.keys, k)
			ord.dim += vals.At(k).Dim()
		}
	}
	return ord
}

// linearizeAll accumulates the normal equations H*dx = b over all factors,
// with H = sum J'*Info*J and b = -sum J'*Info*r, and returns the graph error.
func linearizeAll(g *Graph, vals *Values, ord ordering) (*mat.Dense, *mat.VecDense, float64, error) {
	hess := mat.NewDense(ord.dim, ord.dim, nil)
	grad := mat.NewVecDense(ord.dim, nil)
	total := 0.0

	for _, f := range g.Factors() {
		lin, err := f.Linearize(vals)
		if err != nil {
			return nil, nil, 0, err
		}
		total += residualError(lin)

		n := lin.Resid.Len()
		wr := lin.Resid
		weighted := make([]*mat.Dense, len(lin.Jac))
		if lin.Info != nil {
			w := mat.NewVecDense(n, nil)
			w.MulVec(lin.Info, lin.Resid)
			wr = w
			for i, J := range lin.Jac {
				var wj mat.Dense
				wj.Mul(lin.Info, J)
				weighted[i] = &wj
			}
		} else {
			copy(weighted, lin.Jac)
		}

		keys := f.Keys()
		for i, ki := range keys {
			offI := ord.offset[ki]
			var gi mat.VecDense
			gi.MulVec(lin.Jac[i].T(), wr)
			for r := 0; r < gi.Len(); r++ {
				grad.SetVec(offI+r, grad.AtVec(offI+r)-gi.AtVec(r))
			}
			for j := i; j < len(keys); j++ {
				offJ := ord.offset[keys[j]]
				var block mat.Dense
				block.Mul(lin.Jac[i].T(), weighted[j])
				br, bc := block.Dims()
				for r := 0; r < br; r++ {
					for c := 0; c < bc; c++ {
						hess.Set(offI+r, offJ+c, hess.At(offI+r, offJ+c)+block.At(r, c))
						if j != i {
							hess.Set(offJ+c, offI+r, hess.At(offJ+c, offI+r)+block.At(r, c))
						}
					}
				}
			}
		}
	}
	return hess, grad, total, nil
}

// solveDamped solves (H + lambda*I) dx = b by Cholesky. A factorization
// failure reports the step as unusable so the caller can raise lambda.
func solveDamped(hess *mat.Dense, grad *mat.VecDense, lambda float64) ([]float64, bool) {
	n := grad.Len()
	damped := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			damped.SetSym(i, j, hess.At(i, j))
		}
		damped.SetSym(i, i, hess.At(i, i)+lambda)
	}

	var chol mat.Cholesky
	if !chol.Factorize(damped) {
		return nil, false
	}
	var dx mat.VecDense
	if err := chol.SolveVecTo(&dx, grad); err != nil {
		return nil, false
	}
	return dx.RawVector().Data, true
}

func retractAll(vals *Values, dx []float64, ord ordering) *Values {
	out := vals.Copy()
	for _, k := range ord.keys {
		x := vals.At(k)
		off := ord.offset[k]
		out.Insert(k, x.Retract(dx[off:off+x.Dim()]))
	}
	return out
}
