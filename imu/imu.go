// Package imu holds inertial measurements and preintegrates them between
// keyframe times: it accumulates the relative orientation, velocity, and
// position changes over a window together with their bias Jacobians and a
// 15x15 covariance, so a graph factor can relate two navigation states.
package imu

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrOutOfRange reports a preintegration window that the measurement span
// cannot cover.
var ErrOutOfRange = errors.New("imu: window outside measurement span")

// ErrSingularCovariance reports a preintegrated covariance that cannot be
// inverted into an information matrix.
var ErrSingularCovariance = errors.New("imu: singular preintegrated covariance")

// Sample is one inertial reading: angular velocity in rad/s and specific
// force in m/s^2, both in the IMU frame, stamped in seconds.
type Sample struct {
	Time  float64
	Gyro  r3.Vector
	Accel r3.Vector
}

// Noise holds the IMU's continuous-time noise densities: white noise on the
// gyroscope and accelerometer plus the random walks driving their biases.
type Noise struct {
	GyroDensity  float64 // rad/s/sqrt(Hz)
	GyroWalk     float64 // rad/s^2/sqrt(Hz)
	AccelDensity float64 // m/s^2/sqrt(Hz)
	AccelWalk    float64 // m/s^3/sqrt(Hz)
}

// LoadCSV reads inertial samples from a CSV file with rows of
// "timestamp [ns], w_x, w_y, w_z, a_x, a_y, a_z". Lines starting with '#'
// are skipped.
func LoadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "imu: open")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = 7
	r.TrimLeadingSpace = true

	var samples []Sample
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "imu: read %s", path)
		}
		line++
		vals := make([]float64, 7)
		for i, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "imu: %s record %d field %d", path, line, i)
			}
			vals[i] = v
		}
		samples = append(samples, Sample{
			Time:  vals[0] / 1e9,
			Gyro:  r3.Vector{X: vals[1], Y: vals[2], Z: vals[3]},
			Accel: r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]},
		})
	}
	return samples, nil
}
