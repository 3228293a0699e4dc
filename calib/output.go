package calib

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// stateHeader matches the eth trajectory format.
const stateHeader = "#time(ns),px,py,pz,qw,qx,qy,qz,vx,vy,vz,bwx,bwy,bwz,bax,bay,baz"

// WriteStates exports the estimated states as CSV, one row per surviving
// keyframe in time order. Any existing file is replaced and parent
// directories are created.
func WriteStates(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "calib: create state dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "calib: create state file")
	}

	fmt.Fprintln(f, stateHeader)
	for i, t := range res.Times {
		s := res.States[i]
		q := s.Orientation
		fmt.Fprintf(f, "%d,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g\n",
			int64(math.Floor(1e9*t)),
			s.Position.X, s.Position.Y, s.Position.Z,
			q.W, q.X, q.Y, q.Z,
			s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
			s.GyroBias.X, s.GyroBias.Y, s.GyroBias.Z,
			s.AccelBias.X, s.AccelBias.Y, s.AccelBias.Z)
	}
	return errors.Wrap(f.Close(), "calib: close state file")
}

// WriteInfo exports the calibration summary: the extrinsic rotation as a
// matrix and quaternion, the extrinsic translation, gravity with its norm,
// and the time offset.
func WriteInfo(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "calib: create info dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "calib: create info file")
	}

	fmt.Fprintln(f, "R_BtoI:")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(f, "%.6g %.6g %.6g\n", res.RBtoI.At(i, 0), res.RBtoI.At(i, 1), res.RBtoI.At(i, 2))
	}
	fmt.Fprintf(f, "\nq_BtoI:\n%.6g %.6g %.6g %.6g\n", res.QBtoI.W, res.QBtoI.X, res.QBtoI.Y, res.QBtoI.Z)
	fmt.Fprintf(f, "\np_BinI:\n%.6g %.6g %.6g\n", res.PBinI.X, res.PBinI.Y, res.PBinI.Z)
	fmt.Fprintf(f, "\ngravity:\n%.6g %.6g %.6g\n", res.Gravity.X, res.Gravity.Y, res.Gravity.Z)
	fmt.Fprintf(f, "\ngravity norm:\n%.6g\n", res.Gravity.Norm())
	fmt.Fprintf(f, "\nt_off_vicon_to_imu:\n%.6g\n", res.Toff)
	return errors.Wrap(f.Close(), "calib: close info file")
}
