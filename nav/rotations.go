// Package nav provides the navigation-state types and SO(3) primitives shared by
// the calibration pipeline: quaternion/rotation-matrix conversions, exponential and
// logarithm maps, and the right Jacobians used when linearizing rotation residuals.
package nav

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"
)

// smallAngle is the rotation angle below which the closed-form SO(3)
// expressions are replaced by their series expansions.
const smallAngle = 1e-7

// Hat returns the 3x3 skew-symmetric matrix of v, so that Hat(v)*u = v x u.
func Hat(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// vee is the inverse of Hat for a skew-symmetric matrix.
func vee(m mat.Matrix) r3.Vector {
	return r3.Vector{X: m.At(2, 1), Y: m.At(0, 2), Z: m.At(1, 0)}
}

// Rotate applies a 3x3 matrix to v.
func Rotate(R mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: R.At(0, 0)*v.X + R.At(0, 1)*v.Y + R.At(0, 2)*v.Z,
		Y: R.At(1, 0)*v.X + R.At(1, 1)*v.Y + R.At(1, 2)*v.Z,
		Z: R.At(2, 0)*v.X + R.At(2, 1)*v.Y + R.At(2, 2)*v.Z,
	}
}

// Exp maps a rotation vector to a rotation matrix (Rodrigues formula).
func Exp(theta r3.Vector) *mat.Dense {
	t := theta.Norm()
	K := Hat(theta)
	var K2 mat.Dense
	K2.Mul(K, K)

	var a, b float64
	if t < smallAngle {
		a = 1 - t*t/6
		b = 0.5 - t*t/24
	} else {
		a = math.Sin(t) / t
		b = (1 - math.Cos(t)) / (t * t)
	}

	R := eye3()
	var aK, bK2 mat.Dense
	aK.Scale(a, K)
	bK2.Scale(b, &K2)
	R.Add(R, &aK)
	R.Add(R, &bK2)
	return R
}

// ExpQuat maps a rotation vector to a unit quaternion.
func ExpQuat(theta r3.Vector) quaternion.Quaternion {
	t := theta.Norm()
	var s float64
	if t < smallAngle {
		s = 0.5 - t*t/48
	} else {
		s = math.Sin(t/2) / t
	}
	return quaternion.Unit(quaternion.Quaternion{
		W: math.Cos(t / 2),
		X: s * theta.X,
		Y: s * theta.Y,
		Z: s * theta.Z,
	})
}

// Log maps a rotation matrix to its rotation vector. The branch near pi recovers
// the axis from the diagonal, where the antisymmetric part loses precision.
func Log(R mat.Matrix) r3.Vector {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	c := (tr - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	t := math.Acos(c)

	var anti mat.Dense
	anti.Sub(R, R.T())
	w := vee(&anti).Mul(0.5) // = sin(t) * axis

	switch {
	case t < smallAngle:
		return w
	case math.Pi-t < 1e-6:
		// Axis from the symmetric part; sign is free at exactly pi, otherwise
		// aligned with the antisymmetric part.
		var u r3.Vector
		switch {
		case R.At(0, 0) >= R.At(1, 1) && R.At(0, 0) >= R.At(2, 2):
			u.X = math.Sqrt(math.Max(0, (R.At(0, 0)+1)/2))
			u.Y = (R.At(0, 1) + R.At(1, 0)) / (4 * u.X)
			u.Z = (R.At(0, 2) + R.At(2, 0)) / (4 * u.X)
		case R.At(1, 1) >= R.At(2, 2):
			u.Y = math.Sqrt(math.Max(0, (R.At(1, 1)+1)/2))
			u.X = (R.At(0, 1) + R.At(1, 0)) / (4 * u.Y)
			u.Z = (R.At(1, 2) + R.At(2, 1)) / (4 * u.Y)
		default:
			u.Z = math.Sqrt(math.Max(0, (R.At(2, 2)+1)/2))
			u.X = (R.At(0, 2) + R.At(2, 0)) / (4 * u.Z)
			u.Y = (R.At(1, 2) + R.At(2, 1)) / (4 * u.Z)
		}
		u = u.Normalize()
		if u.Dot(w) < 0 {
			u = u.Mul(-1)
		}
		return u.Mul(t)
	default:
		return w.Mul(t / math.Sin(t))
	}
}

// LogQuat maps a unit quaternion to its rotation vector.
func LogQuat(q quaternion.Quaternion) r3.Vector {
	return Log(RotationMatrix(q))
}

// Jr returns the right Jacobian of the SO(3) exponential at theta.
func Jr(theta r3.Vector) *mat.Dense {
	t := theta.Norm()
	K := Hat(theta)
	var K2 mat.Dense
	K2.Mul(K, K)

	var a, b float64
	if t < smallAngle {
		a = 0.5 - t*t/24
		b = 1.0/6 - t*t/120
	} else {
		a = (1 - math.Cos(t)) / (t * t)
		b = (t - math.Sin(t)) / (t * t * t)
	}

	J := eye3()
	var aK, bK2 mat.Dense
	aK.Scale(-a, K)
	bK2.Scale(b, &K2)
	J.Add(J, &aK)
	J.Add(J, &bK2)
	return J
}

// JrInv returns the inverse of the right Jacobian at theta.
func JrInv(theta r3.Vector) *mat.Dense {
	t := theta.Norm()
	K := Hat(theta)
	var K2 mat.Dense
	K2.Mul(K, K)

	var b float64
	if t < smallAngle {
		b = 1.0 / 12
	} else {
		b = 1/(t*t) - (1+math.Cos(t))/(2*t*math.Sin(t))
	}

	J := eye3()
	var hK, bK2 mat.Dense
	hK.Scale(0.5, K)
	bK2.Scale(b, &K2)
	J.Add(J, &hK)
	J.Add(J, &bK2)
	return J
}

// JlInv returns the inverse of the left Jacobian at theta, JlInv(x) = JrInv(-x).
func JlInv(theta r3.Vector) *mat.Dense {
	return JrInv(theta.Mul(-1))
}

// RotationMatrix converts a unit quaternion to its rotation matrix, with
// v_parent = R * v_child when q holds the child-in-parent orientation.
func RotationMatrix(q quaternion.Quaternion) *mat.Dense {
	q = quaternion.Unit(q)
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// QuatFromRotation converts a rotation matrix to a unit quaternion with W >= 0
// (Shepperd's method, branching on the largest diagonal term).
func QuatFromRotation(R mat.Matrix) quaternion.Quaternion {
	var q quaternion.Quaternion
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q.W = s / 4
		q.X = (R.At(2, 1) - R.At(1, 2)) / s
		q.Y = (R.At(0, 2) - R.At(2, 0)) / s
		q.Z = (R.At(1, 0) - R.At(0, 1)) / s
	case R.At(0, 0) > R.At(1, 1) && R.At(0, 0) > R.At(2, 2):
		s := 2 * math.Sqrt(1+R.At(0, 0)-R.At(1, 1)-R.At(2, 2))
		q.W = (R.At(2, 1) - R.At(1, 2)) / s
		q.X = s / 4
		q.Y = (R.At(0, 1) + R.At(1, 0)) / s
		q.Z = (R.At(0, 2) + R.At(2, 0)) / s
	case R.At(1, 1) > R.At(2, 2):
		s := 2 * math.Sqrt(1+R.At(1, 1)-R.At(0, 0)-R.At(2, 2))
		q.W = (R.At(0, 2) - R.At(2, 0)) / s
		q.X = (R.At(0, 1) + R.At(1, 0)) / s
		q.Y = s / 4
		q.Z = (R.At(1, 2) + R.At(2, 1)) / s
	default:
		s := 2 * math.Sqrt(1+R.At(2, 2)-R.At(0, 0)-R.At(1, 1))
		q.W = (R.At(1, 0) - R.At(0, 1)) / s
		q.X = (R.At(0, 2) + R.At(2, 0)) / s
		q.Y = (R.At(1, 2) + R.At(2, 1)) / s
		q.Z = s / 4
	}
	q = quaternion.Unit(q)
	if q.W < 0 {
		q = quaternion.Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	return q
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
