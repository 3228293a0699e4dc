package imu

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
)

// Delta is the preintegrated motion over one window: the rotation from the
// ending IMU frame into the starting one, the velocity and position changes
// expressed in the starting frame, the Jacobians of those quantities with
// respect to the linearization-point biases, and the 15x15 covariance ordered
// [theta, bg, v, ba, p].
type Delta struct {
	DT float64

	DR *mat.Dense
	DV r3.Vector
	DP r3.Vector

	// Bias linearization points the Jacobians expand around.
	GyroBias  r3.Vector
	AccelBias r3.Vector

	Jq *mat.Dense // d Log(DR) / d bg
	Jb *mat.Dense // d DV / d bg
	Ja *mat.Dense // d DV / d ba
	Hb *mat.Dense // d DP / d bg
	Ha *mat.Dense // d DP / d ba

	Cov *mat.SymDense
}

// Information inverts the preintegrated covariance.
func (d Delta) Information() (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(d.Cov) {
		return nil, errors.Wrapf(ErrSingularCovariance, "window of %.3fs", d.DT)
	}
	var info mat.SymDense
	if err := chol.InverseTo(&info); err != nil {
		return nil, errors.Wrapf(ErrSingularCovariance, "window of %.3fs", d.DT)
	}
	return &info, nil
}

// Propagator preintegrates a time-sorted set of inertial samples over
// arbitrary windows inside their span.
type Propagator struct {
	samples []Sample
	noise   Noise
}

// NewPropagator sorts and deduplicates the samples. At least two distinct
// timestamps are required.
func NewPropagator(samples []Sample, noise Noise) (*Propagator, error) {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	kept := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s.Time <= kept[len(kept)-1].Time {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) < 2 {
		return nil, errors.New("imu: need at least two samples with distinct times")
	}
	return &Propagator{samples: kept, noise: noise}, nil
}

// Span returns the first and last sample times.
func (p *Propagator) Span() (float64, float64) {
	return p.samples[0].Time, p.samples[len(p.samples)-1].Time
}

// HasBounding reports whether t lies inside the sample span.
func (p *Propagator) HasBounding(t float64) bool {
	first, last := p.Span()
	return t >= first && t <= last
}

// Propagate integrates the samples over [t0, t1], linearizing around the
// given bias estimates. Boundary readings are synthesized by linear
// interpolation so the integrated time matches the window exactly; a window
// outside the span reports ErrOutOfRange.
func (p *Propagator) Propagate(t0, t1 float64, bg, ba r3.Vector) (Delta, error) {
	if t1 <= t0 {
		return Delta{}, errors.Errorf("imu: invalid window [%.6f, %.6f]", t0, t1)
	}
	rs, err := p.window(t0, t1)
	if err != nil {
		return Delta{}, err
	}

	dr := eye(3)
	var dv, dp r3.Vector
	jq := mat.NewDense(3, 3, nil)
	jb := mat.NewDense(3, 3, nil)
	ja := mat.NewDense(3, 3, nil)
	hb := mat.NewDense(3, 3, nil)
	ha := mat.NewDense(3, 3, nil)
	cov := mat.NewDense(15, 15, nil)

	for k := 0; k+1 < len(rs); k++ {
		dt := rs[k+1].Time - rs[k].Time
		if dt <= 0 {
			continue
		}
		w := rs[k].Gyro.Sub(bg)
		a := rs[k].Accel.Sub(ba)

		A := nav.Exp(w.Mul(dt))
		JrW := nav.Jr(w.Mul(dt))
		ra := nav.Rotate(dr, a)

		var rA mat.Dense // DR * hat(a)
		rA.Mul(dr, nav.Hat(a))
		var rAJq mat.Dense
		rAJq.Mul(&rA, jq)

		// Covariance and bias Jacobians use the pre-step mean.
		F := mat.NewDense(15, 15, nil)
		setBlock(F, 0, 0, A.T())
		setBlock(F, 0, 3, scaled(-dt, JrW))
		setDiag(F, 3, 3, 1)
		setBlock(F, 6, 0, scaled(-dt, &rA))
		setDiag(F, 6, 6, 1)
		setBlock(F, 6, 9, scaled(-dt, dr))
		setDiag(F, 9, 9, 1)
		setBlock(F, 12, 0, scaled(-0.5*dt*dt, &rA))
		setDiag(F, 12, 6, dt)
		setBlock(F, 12, 9, scaled(-0.5*dt*dt, dr))
		setDiag(F, 12, 12, 1)

		G := mat.NewDense(15, 12, nil)
		setBlock(G, 0, 0, scaled(-dt, JrW))
		setDiag(G, 3, 3, dt)
		setBlock(G, 6, 6, scaled(-dt, dr))
		setDiag(G, 9, 9, dt)
		setBlock(G, 12, 6, scaled(-0.5*dt*dt, dr))

		Qc := mat.NewDense(12, 12, nil)
		setDiag(Qc, 0, 0, p.noise.GyroDensity*p.noise.GyroDensity/dt)
		setDiag(Qc, 3, 3, p.noise.GyroWalk*p.noise.GyroWalk/dt)
		setDiag(Qc, 6, 6, p.noise.AccelDensity*p.noise.AccelDensity/dt)
		setDiag(Qc, 9, 9, p.noise.AccelWalk*p.noise.AccelWalk/dt)

		var fp, fpf, gq, gqg, covNew mat.Dense
		fp.Mul(F, cov)
		fpf.Mul(&fp, F.T())
		gq.Mul(G, Qc)
		gqg.Mul(&gq, G.T())
		covNew.Add(&fpf, &gqg)

		var jqNew, jbNew, jaNew, hbNew, haNew, tmp mat.Dense
		jqNew.Mul(A.T(), jq)
		tmp.Scale(dt, JrW)
		jqNew.Sub(&jqNew, &tmp)

		jbNew.Scale(-dt, &rAJq)
		jbNew.Add(&jbNew, jb)

		jaNew.Scale(-dt, dr)
		jaNew.Add(&jaNew, ja)

		hbNew.Scale(dt, jb)
		tmp.Scale(-0.5*dt*dt, &rAJq)
		hbNew.Add(&hbNew, &tmp)
		hbNew.Add(&hbNew, hb)

		haNew.Scale(dt, ja)
		tmp.Scale(-0.5*dt*dt, dr)
		haNew.Add(&haNew, &tmp)
		haNew.Add(&haNew, ha)

		dp = dp.Add(dv.Mul(dt)).Add(ra.Mul(0.5 * dt * dt))
		dv = dv.Add(ra.Mul(dt))
		var drNew mat.Dense
		drNew.Mul(dr, A)

		dr = &drNew
		jq, jb, ja, hb, ha = &jqNew, &jbNew, &jaNew, &hbNew, &haNew
		cov = &covNew
	}

	sym := mat.NewSymDense(15, nil)
	for i := 0; i < 15; i++ {
		for j := i; j < 15; j++ {
			sym.SetSym(i, j, 0.5*(cov.At(i, j)+cov.At(j, i)))
		}
	}

	return Delta{
		DT: t1 - t0,
		DR: dr, DV: dv, DP: dp,
		GyroBias: bg, AccelBias: ba,
		Jq: jq, Jb: jb, Ja: ja, Hb: hb, Ha: ha,
		Cov: sym,
	}, nil
}

// window returns the samples covering [t0, t1], with both boundaries
// synthesized by linear interpolation.
func (p *Propagator) window(t0, t1 float64) ([]Sample, error) {
	first, last := p.Span()
	if t0 < first || t1 > last {
		return nil, errors.Wrapf(ErrOutOfRange,
			"window [%.6f, %.6f] vs span [%.6f, %.6f]", t0, t1, first, last)
	}

	out := make([]Sample, 0, 16)
	i := sort.Search(len(p.samples), func(k int) bool { return p.samples[k].Time > t0 })
	out = append(out, interpolate(p.samples[i-1], p.samples[i], t0))
	for ; i < len(p.samples) && p.samples[i].Time < t1; i++ {
		out = append(out, p.samples[i])
	}
	j := sort.Search(len(p.samples), func(k int) bool { return p.samples[k].Time >= t1 })
	out = append(out, interpolate(p.samples[j-1], p.samples[j], t1))
	return out, nil
}

func interpolate(a, b Sample, t float64) Sample {
	lam := (t - a.Time) / (b.Time - a.Time)
	return Sample{
		Time:  t,
		Gyro:  a.Gyro.Add(b.Gyro.Sub(a.Gyro).Mul(lam)),
		Accel: a.Accel.Add(b.Accel.Sub(a.Accel).Mul(lam)),
	}
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
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
