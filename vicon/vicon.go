// Package vicon holds motion-capture pose measurements of the tracked body in
// the capture frame and interpolates them to arbitrary query times along the
// SO(3) geodesic.
package vicon

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
)

// ErrOutOfRange reports a query time outside the measurement span.
var ErrOutOfRange = errors.New("vicon: time outside measurement span")

// Sample is one motion-capture reading: the tracked body's pose in the
// capture frame, stamped in seconds.
type Sample struct {
	Time float64
	Pose nav.Pose
}

// Noise holds the per-axis measurement sigmas applied to every pose reading:
// orientation in radians, position in meters.
type Noise struct {
	Orient r3.Vector
	Pos    r3.Vector
}

// Information returns the 6x6 information matrix of a single pose reading,
// ordered orientation then position.
func (n Noise) Information() *mat.SymDense {
	info := mat.NewSymDense(6, nil)
	sig := [6]float64{n.Orient.X, n.Orient.Y, n.Orient.Z, n.Pos.X, n.Pos.Y, n.Pos.Z}
	for i, s := range sig {
		info.SetSym(i, i, 1/(s*s))
	}
	return info
}

// LoadCSV reads pose samples from a CSV file with rows of
// "timestamp [ns], p_x, p_y, p_z, q_w, q_x, q_y, q_z". Lines starting with
// '#' are skipped and quaternions are normalized on load.
func LoadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "vicon: open")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = 8
	r.TrimLeadingSpace = true

	var samples []Sample
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "vicon: read %s", path)
		}
		line++
		vals := make([]float64, 8)
		for i, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "vicon: %s record %d field %d", path, line, i)
			}
			vals[i] = v
		}
		samples = append(samples, Sample{
			Time: vals[0] / 1e9,
			Pose: nav.Pose{
				Pos: r3.Vector{X: vals[1], Y: vals[2], Z: vals[3]},
				Rot: quaternion.Unit(quaternion.Quaternion{W: vals[4], X: vals[5], Y: vals[6], Z: vals[7]}),
			},
		})
	}
	return samples, nil
}
