package nav

import (
	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"

	"github.com/mfkiwl/vicon2gt/nlls"
)

// State is one inertial navigation state: the IMU orientation in the reference
// frame, gyroscope bias, velocity, accelerometer bias, and position. Its
// 15-dimensional tangent space is ordered [theta, bg, v, ba, p], with the
// orientation retracting on the right and the vector parts adding.
type State struct {
	Orientation quaternion.Quaternion // IMU frame in the reference frame
	GyroBias    r3.Vector
	Velocity    r3.Vector
	AccelBias   r3.Vector
	Position    r3.Vector
}

var _ nlls.Variable = State{}

// NewState assembles a State from its parts.
func NewState(q quaternion.Quaternion, bg, v, ba, p r3.Vector) State {
	return State{Orientation: quaternion.Unit(q), GyroBias: bg, Velocity: v, AccelBias: ba, Position: p}
}

// Dim returns the tangent-space dimension, 15.
func (s State) Dim() int { return 15 }

// Retract applies a [theta, bg, v, ba, p] increment.
func (s State) Retract(delta []float64) nlls.Variable {
	dq := ExpQuat(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]})
	return State{
		Orientation: quaternion.Unit(quaternion.Prod(s.Orientation, dq)),
		GyroBias:    s.GyroBias.Add(r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}),
		Velocity:    s.Velocity.Add(r3.Vector{X: delta[6], Y: delta[7], Z: delta[8]}),
		AccelBias:   s.AccelBias.Add(r3.Vector{X: delta[9], Y: delta[10], Z: delta[11]}),
		Position:    s.Position.Add(r3.Vector{X: delta[12], Y: delta[13], Z: delta[14]}),
	}
}

// Rotation is an SO(3) unknown retracting on the right, Q <- Q * Exp(delta).
type Rotation struct {
	Q quaternion.Quaternion
}

var _ nlls.Variable = Rotation{}

func (r Rotation) Dim() int { return 3 }

func (r Rotation) Retract(delta []float64) nlls.Variable {
	dq := ExpQuat(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]})
	return Rotation{Q: quaternion.Unit(quaternion.Prod(r.Q, dq))}
}

// Vec3 is a three-dimensional additive unknown.
type Vec3 struct {
	V r3.Vector
}

var _ nlls.Variable = Vec3{}

func (v Vec3) Dim() int { return 3 }

func (v Vec3) Retract(delta []float64) nlls.Variable {
	return Vec3{V: v.V.Add(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]})}
}

// Scalar is a one-dimensional additive unknown.
type Scalar struct {
	V float64
}

var _ nlls.Variable = Scalar{}

func (s Scalar) Dim() int { return 1 }

func (s Scalar) Retract(delta []float64) nlls.Variable {
	return Scalar{V: s.V + delta[0]}
}

// Pose is a rigid-body pose measurement: the measured frame's orientation and
// position in the reference frame.
type Pose struct {
	Rot quaternion.Quaternion
	Pos r3.Vector
}
