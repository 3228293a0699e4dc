package imu

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
)

var testNoise = Noise{
	GyroDensity:  1.6968e-4,
	GyroWalk:     1.9393e-5,
	AccelDensity: 2.0e-3,
	AccelWalk:    3.0e-3,
}

// gridSamples builds readings at 100 Hz over [0, dur] from the given
// body-rate and specific-force functions.
func gridSamples(dur float64, gyro, accel func(t float64) r3.Vector) []Sample {
	n := int(dur*100) + 1
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		t := float64(i) / 100
		out = append(out, Sample{Time: t, Gyro: gyro(t), Accel: accel(t)})
	}
	return out
}

func stationarySamples(dur float64) []Sample {
	return gridSamples(dur,
		func(float64) r3.Vector { return r3.Vector{} },
		func(float64) r3.Vector { return r3.Vector{Z: 9.8} })
}

func TestNewPropagatorRequiresTwoDistinctTimes(t *testing.T) {
	_, err := NewPropagator(nil, testNoise)
	require.Error(t, err)

	_, err = NewPropagator([]Sample{{Time: 1}, {Time: 1}, {Time: 1}}, testNoise)
	require.Error(t, err)

	p, err := NewPropagator([]Sample{{Time: 2}, {Time: 1}, {Time: 2}}, testNoise)
	require.NoError(t, err)
	first, last := p.Span()
	require.Equal(t, 1.0, first)
	require.Equal(t, 2.0, last)
}

func TestHasBounding(t *testing.T) {
	p, err := NewPropagator(stationarySamples(2), testNoise)
	require.NoError(t, err)
	require.True(t, p.HasBounding(0))
	require.True(t, p.HasBounding(1.234))
	require.True(t, p.HasBounding(2))
	require.False(t, p.HasBounding(-0.01))
	require.False(t, p.HasBounding(2.01))
}

func TestPropagateWindowErrors(t *testing.T) {
	p, err := NewPropagator(stationarySamples(2), testNoise)
	require.NoError(t, err)

	_, err = p.Propagate(-0.5, 1, r3.Vector{}, r3.Vector{})
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = p.Propagate(1, 2.5, r3.Vector{}, r3.Vector{})
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = p.Propagate(1.5, 1.5, r3.Vector{}, r3.Vector{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrOutOfRange)
}

func TestPropagateStationary(t *testing.T) {
	p, err := NewPropagator(stationarySamples(3), testNoise)
	require.NoError(t, err)

	// Window boundaries off the sample grid exercise boundary interpolation.
	t0, t1 := 0.105, 1.387
	d, err := p.Propagate(t0, t1, r3.Vector{}, r3.Vector{})
	require.NoError(t, err)
	require.Equal(t, t1-t0, d.DT)

	I := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	require.Less(t, matMaxDiff(d.DR, I), 1e-12)

	require.InDelta(t, 0, d.DV.X, 1e-12)
	require.InDelta(t, 0, d.DV.Y, 1e-12)
	require.InDelta(t, 9.8*d.DT, d.DV.Z, 1e-9)

	require.InDelta(t, 0, d.DP.X, 1e-12)
	require.InDelta(t, 0, d.DP.Y, 1e-12)
	require.InDelta(t, 0.5*9.8*d.DT*d.DT, d.DP.Z, 1e-9)
}

func TestPropagateConstantRate(t *testing.T) {
	w := r3.Vector{X: 0.3, Y: -0.5, Z: 0.9}
	samples := gridSamples(2,
		func(float64) r3.Vector { return w },
		func(float64) r3.Vector { return r3.Vector{} })
	p, err := NewPropagator(samples, testNoise)
	require.NoError(t, err)

	d, err := p.Propagate(0.2, 1.7, r3.Vector{}, r3.Vector{})
	require.NoError(t, err)
	require.Less(t, matMaxDiff(d.DR, nav.Exp(w.Mul(d.DT))), 1e-9)
}

func TestPropagateBiasJacobiansFirstOrder(t *testing.T) {
	// Motion-rich inputs so the Jacobians have full structure.
	samples := gridSamples(2,
		func(t float64) r3.Vector {
			return r3.Vector{X: 0.4 * math.Sin(t), Y: 0.3 * math.Cos(2 * t), Z: -0.2}
		},
		func(t float64) r3.Vector {
			return r3.Vector{X: 0.5 * math.Cos(t), Y: -0.3, Z: 9.8 + 0.2*math.Sin(3*t)}
		})
	p, err := NewPropagator(samples, testNoise)
	require.NoError(t, err)

	base, err := p.Propagate(0.1, 1.9, r3.Vector{}, r3.Vector{})
	require.NoError(t, err)

	dbg := r3.Vector{X: 1e-5, Y: -2e-5, Z: 1.5e-5}
	dba := r3.Vector{X: -2e-5, Y: 1e-5, Z: 3e-5}
	moved, err := p.Propagate(0.1, 1.9, dbg, dba)
	require.NoError(t, err)

	// DR(bg+d) ~= DR(bg) * Exp(Jq d)
	var pred mat.Dense
	pred.Mul(base.DR, nav.Exp(nav.Rotate(base.Jq, dbg)))
	require.Less(t, matMaxDiff(moved.DR, &pred), 1e-8)

	predV := base.DV.Add(nav.Rotate(base.Jb, dbg)).Add(nav.Rotate(base.Ja, dba))
	require.Less(t, moved.DV.Sub(predV).Norm(), 1e-7)

	predP := base.DP.Add(nav.Rotate(base.Hb, dbg)).Add(nav.Rotate(base.Ha, dba))
	require.Less(t, moved.DP.Sub(predP).Norm(), 1e-7)
}

func TestPropagateCovarianceInvertible(t *testing.T) {
	p, err := NewPropagator(stationarySamples(2), testNoise)
	require.NoError(t, err)

	short, err := p.Propagate(0.5, 0.6, r3.Vector{}, r3.Vector{})
	require.NoError(t, err)
	long, err := p.Propagate(0.5, 1.5, r3.Vector{}, r3.Vector{})
	require.NoError(t, err)

	for _, d := range []Delta{short, long} {
		info, err := d.Information()
		require.NoError(t, err)
		r, c := info.Dims()
		require.Equal(t, 15, r)
		require.Equal(t, 15, c)
	}

	// Uncertainty grows with the window.
	for i := 0; i < 15; i++ {
		require.Greater(t, long.Cov.At(i, i), 0.0)
		require.GreaterOrEqual(t, long.Cov.At(i, i), short.Cov.At(i, i))
	}
}

func TestInformationSingular(t *testing.T) {
	d := Delta{DT: 0.1, Cov: mat.NewSymDense(15, nil)}
	_, err := d.Information()
	require.ErrorIs(t, err, ErrSingularCovariance)
}

func matMaxDiff(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	d := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m := math.Abs(a.At(i, j) - b.At(i, j)); m > d {
				d = m
			}
		}
	}
	return d
}
