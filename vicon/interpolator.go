package vicon

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
)

// Interpolator answers pose queries between measurement times: position is
// interpolated linearly, orientation along the geodesic between the
// bracketing rotations.
type Interpolator struct {
	times []float64
	poses []nav.Pose
}

// NewInterpolator sorts and deduplicates the samples. At least two distinct
// timestamps are required.
func NewInterpolator(samples []Sample) (*Interpolator, error) {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	ip := &Interpolator{}
	for i, s := range sorted {
		if i > 0 && s.Time <= ip.times[len(ip.times)-1] {
			continue
		}
		ip.times = append(ip.times, s.Time)
		ip.poses = append(ip.poses, s.Pose)
	}
	if len(ip.times) < 2 {
		return nil, errors.New("vicon: need at least two samples with distinct times")
	}
	return ip, nil
}

// Span returns the first and last sample times.
func (ip *Interpolator) Span() (float64, float64) {
	return ip.times[0], ip.times[len(ip.times)-1]
}

// Covers reports whether t can be interpolated.
func (ip *Interpolator) Covers(t float64) bool {
	return t >= ip.times[0] && t <= ip.times[len(ip.times)-1]
}

// Pose interpolates the body pose at t, reporting ErrOutOfRange outside the
// measurement span.
func (ip *Interpolator) Pose(t float64) (nav.Pose, error) {
	if !ip.Covers(t) {
		first, last := ip.Span()
		return nav.Pose{}, errors.Wrapf(ErrOutOfRange,
			"time %.6f vs span [%.6f, %.6f]", t, first, last)
	}

	j := sort.SearchFloat64s(ip.times, t)
	if j < len(ip.times) && ip.times[j] == t {
		return ip.poses[j], nil
	}

	lam := (t - ip.times[j-1]) / (ip.times[j] - ip.times[j-1])
	p0, p1 := ip.poses[j-1], ip.poses[j]

	R0 := nav.RotationMatrix(p0.Rot)
	R1 := nav.RotationMatrix(p1.Rot)
	var rel, R mat.Dense
	rel.Mul(R0.T(), R1)
	R.Mul(R0, nav.Exp(nav.Log(&rel).Mul(lam)))

	return nav.Pose{
		Rot: nav.QuatFromRotation(&R),
		Pos: p0.Pos.Add(p1.Pos.Sub(p0.Pos).Mul(lam)),
	}, nil
}
