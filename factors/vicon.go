package factors

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/nlls"
	"github.com/mfkiwl/vicon2gt/vicon"
)

// probeStep is the half-width, in seconds, of the symmetric difference that
// estimates the measured pose's time derivative.
const probeStep = 0.01

// ViconPose ties a navigation state and the extrinsic calibration to one
// measured body pose. The residual is [Log(Rmeas' * Rpred); ppred - pmeas].
type ViconPose struct {
	StateKey nlls.Key
	RotKey   nlls.Key
	TransKey nlls.Key
	Meas     nav.Pose
	info     *mat.SymDense
}

// NewViconPose builds the factor with a fixed measurement and its 6x6
// information, ordered [orientation, position].
func NewViconPose(state, rot, trans nlls.Key, meas nav.Pose, info *mat.SymDense) *ViconPose {
	return &ViconPose{StateKey: state, RotKey: rot, TransKey: trans, Meas: meas, info: info}
}

func (f *ViconPose) Keys() []nlls.Key {
	return []nlls.Key{f.StateKey, f.RotKey, f.TransKey}
}

func (f *ViconPose) Dim() int { return 6 }

func (f *ViconPose) Linearize(vals *nlls.Values) (nlls.Linearization, error) {
	x := vals.At(f.StateKey).(nav.State)
	c0 := vals.At(f.RotKey).(nav.Rotation)
	c1 := vals.At(f.TransKey).(nav.Vec3)

	resid, jx, jr, jt, _ := poseResidual(x, c0, c1, f.Meas)
	return nlls.Linearization{
		Resid: resid,
		Jac:   []*mat.Dense{jx, jr, jt},
		Info:  f.info,
	}, nil
}

// ViconPoseTimeoffset is the ViconPose residual with the measurement
// re-interpolated at the keyframe time shifted by the time-offset unknown,
// adding a Jacobian toward that offset from the local pose rate.
type ViconPoseTimeoffset struct {
	StateKey nlls.Key
	RotKey   nlls.Key
	TransKey nlls.Key
	OffKey   nlls.Key
	Time     float64
	interp   *vicon.Interpolator
	info     *mat.SymDense
}

// NewViconPoseTimeoffset builds the factor over the raw keyframe time; the
// measurement is looked up at Time plus the current offset estimate on every
// linearization.
func NewViconPoseTimeoffset(state, rot, trans, off nlls.Key, t float64,
	interp *vicon.Interpolator, info *mat.SymDense) *ViconPoseTimeoffset {
	return &ViconPoseTimeoffset{
		StateKey: state, RotKey: rot, TransKey: trans, OffKey: off,
		Time: t, interp: interp, info: info,
	}
}

func (f *ViconPoseTimeoffset) Keys() []nlls.Key {
	return []nlls.Key{f.StateKey, f.RotKey, f.TransKey, f.OffKey}
}

func (f *ViconPoseTimeoffset) Dim() int { return 6 }

func (f *ViconPoseTimeoffset) Linearize(vals *nlls.Values) (nlls.Linearization, error) {
	x := vals.At(f.StateKey).(nav.State)
	c0 := vals.At(f.RotKey).(nav.Rotation)
	c1 := vals.At(f.TransKey).(nav.Vec3)
	toff := vals.At(f.OffKey).(nav.Scalar).V

	t := f.Time + toff
	meas, err := f.interp.Pose(t)
	if err != nil {
		return nlls.Linearization{}, errors.Wrapf(err, "time-offset factor at keyframe %.6f", f.Time)
	}
	m0, err := f.interp.Pose(t - probeStep)
	if err != nil {
		return nlls.Linearization{}, errors.Wrapf(err, "time-offset factor at keyframe %.6f", f.Time)
	}
	m1, err := f.interp.Pose(t + probeStep)
	if err != nil {
		return nlls.Linearization{}, errors.Wrapf(err, "time-offset factor at keyframe %.6f", f.Time)
	}

	resid, jx, jr, jt, rtheta := poseResidual(x, c0, c1, meas)

	// Body angular velocity and position rate by symmetric difference.
	var rel mat.Dense
	rel.Mul(nav.RotationMatrix(m0.Rot).T(), nav.RotationMatrix(m1.Rot))
	omega := nav.Log(&rel).Mul(1 / (2 * probeStep))
	pdot := m1.Pos.Sub(m0.Pos).Mul(1 / (2 * probeStep))

	dtheta := nav.Rotate(nav.JlInv(rtheta), omega).Mul(-1)
	jo := mat.NewDense(6, 1, []float64{
		dtheta.X, dtheta.Y, dtheta.Z,
		-pdot.X, -pdot.Y, -pdot.Z,
	})

	return nlls.Linearization{
		Resid: resid,
		Jac:   []*mat.Dense{jx, jr, jt, jo},
		Info:  f.info,
	}, nil
}

// poseResidual evaluates the shared measured-pose residual and its Jacobians
// toward the state (15), the extrinsic rotation (3), and translation (3).
func poseResidual(x nav.State, c0 nav.Rotation, c1 nav.Vec3, meas nav.Pose) (
	*mat.VecDense, *mat.Dense, *mat.Dense, *mat.Dense, r3.Vector) {

	Ri := nav.RotationMatrix(x.Orientation) // IMU to reference
	Rc := nav.RotationMatrix(c0.Q)          // body to IMU
	Rm := nav.RotationMatrix(meas.Rot)      // measured body to reference

	var pred, E mat.Dense
	pred.Mul(Ri, Rc)
	E.Mul(Rm.T(), &pred)
	rtheta := nav.Log(&E)

	phat := x.Position.Add(nav.Rotate(Ri, c1.V))
	rt := phat.Sub(meas.Pos)

	resid := mat.NewVecDense(6, []float64{
		rtheta.X, rtheta.Y, rtheta.Z,
		rt.X, rt.Y, rt.Z,
	})

	jri := nav.JrInv(rtheta)

	jx := mat.NewDense(6, 15, nil)
	var top mat.Dense
	top.Mul(jri, Rc.T())
	setBlock(jx, 0, 0, &top)
	var lever mat.Dense
	lever.Mul(Ri, nav.Hat(c1.V))
	setBlock(jx, 3, 0, scaled(-1, &lever))
	setDiag(jx, 3, 12, 1)

	jr := mat.NewDense(6, 3, nil)
	setBlock(jr, 0, 0, jri)

	jt := mat.NewDense(6, 3, nil)
	setBlock(jt, 3, 0, Ri)

	return resid, jx, jr, jt, rtheta
}
