package calib

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/imu"
	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/vicon"
)

// synthTraj is a smooth rigid motion of the IMU frame in the capture frame
// with closed-form rates, so sensor streams manufactured from it are exactly
// consistent with each other.
type synthTraj struct {
	grav r3.Vector
}

func (tr synthTraj) angles(s float64) (f, fdot, g, gdot float64) {
	f = 0.4*math.Sin(0.8*s) + 0.3*s
	fdot = 0.32*math.Cos(0.8*s) + 0.3
	g = 0.5*s + 0.2*math.Cos(s)
	gdot = 0.5 - 0.2*math.Sin(s)
	return
}

// rotation is R(s) = Rx(f(s)) * Rz(g(s)), IMU to capture frame.
func (tr synthTraj) rotation(s float64) *mat.Dense {
	f, _, g, _ := tr.angles(s)
	var R mat.Dense
	R.Mul(nav.Exp(r3.Vector{X: f}), nav.Exp(r3.Vector{Z: g}))
	return &R
}

// bodyRate is the exact body-frame angular velocity of rotation(s).
func (tr synthTraj) bodyRate(s float64) r3.Vector {
	_, fdot, g, gdot := tr.angles(s)
	ax := nav.Rotate(nav.Exp(r3.Vector{Z: g}).T(), r3.Vector{X: 1}).Mul(fdot)
	return ax.Add(r3.Vector{Z: gdot})
}

func (tr synthTraj) position(s float64) r3.Vector {
	return r3.Vector{
		X: 0.8 * math.Sin(0.9*s),
		Y: 0.6 * math.Cos(1.1*s),
		Z: 0.3*math.Sin(0.7*s) + 0.1*s,
	}
}

func (tr synthTraj) velocity(s float64) r3.Vector {
	return r3.Vector{
		X: 0.72 * math.Cos(0.9*s),
		Y: -0.66 * math.Sin(1.1*s),
		Z: 0.21*math.Cos(0.7*s) + 0.1,
	}
}

func (tr synthTraj) accelWorld(s float64) r3.Vector {
	return r3.Vector{
		X: -0.648 * math.Sin(0.9*s),
		Y: -0.726 * math.Cos(1.1*s),
		Z: -0.147 * math.Sin(0.7*s),
	}
}

// imuReading is the ideal gyroscope and accelerometer output at capture time s.
func (tr synthTraj) imuReading(s float64) (gyro, accel r3.Vector) {
	R := tr.rotation(s)
	return tr.bodyRate(s), nav.Rotate(R.T(), tr.accelWorld(s).Add(tr.grav))
}

// synthWorld manufactures the three input streams of one calibration run:
// inertial readings on the IMU clock, body poses on the capture clock shifted
// by toff, and keyframe times on the IMU clock.
type synthWorld struct {
	traj  synthTraj
	toff  float64
	rBtoI *mat.Dense
	pBinI r3.Vector

	imuSamples   []imu.Sample
	viconSamples []vicon.Sample
	times        []float64
}

// makeSynthWorld samples the trajectory at 1 kHz inertial and 100 Hz capture
// rate. The capture stream spans [-0.85, viconEnd] so the assembler's probe
// margin is satisfied for keyframes between 0.2 and 3.2 seconds.
func makeSynthWorld(toff, viconEnd float64) *synthWorld {
	w := &synthWorld{
		traj:  synthTraj{grav: r3.Vector{Z: 9.8}},
		toff:  toff,
		rBtoI: nav.Exp(r3.Vector{X: 0.15, Y: -0.3, Z: 1.2}),
		pBinI: r3.Vector{X: 0.06, Y: -0.035, Z: 0.02},
	}

	for i := 0; i <= 3400; i++ {
		tau := float64(i) / 1000
		gyro, accel := w.traj.imuReading(tau + toff)
		w.imuSamples = append(w.imuSamples, imu.Sample{Time: tau, Gyro: gyro, Accel: accel})
	}

	n := int((viconEnd+0.85)/0.01) + 1
	for i := 0; i < n; i++ {
		s := -0.85 + 0.01*float64(i)
		w.viconSamples = append(w.viconSamples, vicon.Sample{Time: s, Pose: w.bodyPose(s)})
	}

	for i := 0; i < 13; i++ {
		w.times = append(w.times, 0.2+0.25*float64(i))
	}
	return w
}

// bodyPose is the tracked body's pose in the capture frame at capture time s.
func (w *synthWorld) bodyPose(s float64) nav.Pose {
	R := w.traj.rotation(s)
	var Rb mat.Dense
	Rb.Mul(R, w.rBtoI)
	return nav.Pose{
		Rot: nav.QuatFromRotation(&Rb),
		Pos: w.traj.position(s).Add(nav.Rotate(R, w.pBinI)),
	}
}

// config returns the configuration whose extrinsics and offset generated the
// streams.
func (w *synthWorld) config() Config {
	cfg := DefaultConfig()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cfg.RBtoI[3*i+j] = w.rBtoI.At(i, j)
		}
	}
	cfg.PBinI = [3]float64{w.pBinI.X, w.pBinI.Y, w.pBinI.Z}
	cfg.ToffImuToVicon = w.toff
	return cfg
}

func (w *synthWorld) components(t *testing.T) (*Catalog, *vicon.Interpolator, *imu.Propagator) {
	t.Helper()
	prop, err := imu.NewPropagator(w.imuSamples, DefaultConfig().IMUNoise())
	require.NoError(t, err)
	ip, err := vicon.NewInterpolator(w.viconSamples)
	require.NoError(t, err)
	cat, err := NewCatalog(w.times, prop, golog.NewTestLogger(t))
	require.NoError(t, err)
	return cat, ip, prop
}

// rotationAngle is the geodesic distance between two rotations.
func rotationAngle(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a.T(), b)
	return nav.Log(&rel).Norm()
}
