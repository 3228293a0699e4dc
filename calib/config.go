package calib

import (
	"encoding/json"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/imu"
	"github.com/mfkiwl/vicon2gt/vicon"
)

// Config collects every tunable of the calibration problem. It is read from a
// JSON file laid over DefaultConfig, so absent keys keep their defaults.
type Config struct {
	// GravInV seeds the gravity vector in the capture frame; its norm is the
	// magnitude-prior mean when EnforceGravMag is set.
	GravInV [3]float64 `json:"grav_inV"`
	// RBtoI seeds the body-to-IMU extrinsic rotation, row-major.
	RBtoI [9]float64 `json:"R_BtoI"`
	// PBinI seeds the body origin in the IMU frame.
	PBinI [3]float64 `json:"p_BinI"`
	// ToffImuToVicon is the initial (or fixed) time offset added to keyframe
	// times before pose lookup.
	ToffImuToVicon float64 `json:"toff_imu_to_vicon"`

	EnforceGravMag         bool `json:"enforce_grav_mag"`
	EstimateToffViconToImu bool `json:"estimate_toff_vicon_to_imu"`
	// NumLoopRelin is the number of extra build/solve rounds after the first.
	NumLoopRelin int `json:"num_loop_relin"`

	GyroNoiseDensity  float64 `json:"gyroscope_noise_density"`
	GyroRandomWalk    float64 `json:"gyroscope_random_walk"`
	AccelNoiseDensity float64 `json:"accelerometer_noise_density"`
	AccelRandomWalk   float64 `json:"accelerometer_random_walk"`

	// ViconSigmas holds the per-axis pose measurement sigmas: orientation in
	// radians, then position in meters.
	ViconSigmas [6]float64 `json:"vicon_sigmas"`

	// StateFreq is the keyframe rate, in Hz, used when no explicit keyframe
	// times are supplied.
	StateFreq float64 `json:"state_freq"`
}

// DefaultConfig returns identity extrinsics, gravity (0,0,9.8) and EuRoC-grade
// IMU noise densities.
func DefaultConfig() Config {
	return Config{
		GravInV:           [3]float64{0, 0, 9.8},
		RBtoI:             [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		GyroNoiseDensity:  1.6968e-4,
		GyroRandomWalk:    1.9393e-5,
		AccelNoiseDensity: 2.0000e-3,
		AccelRandomWalk:   3.0000e-3,
		ViconSigmas:       [6]float64{1e-2, 1e-2, 1e-2, 1e-3, 1e-3, 1e-3},
		StateFreq:         10,
	}
}

// LoadConfig reads a JSON config on top of the defaults and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "calib: read config")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(ErrConfiguration, "parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.GyroNoiseDensity <= 0, c.GyroRandomWalk <= 0,
		c.AccelNoiseDensity <= 0, c.AccelRandomWalk <= 0:
		return errors.Wrap(ErrConfiguration, "imu noise densities must be positive")
	case c.NumLoopRelin < 0:
		return errors.Wrap(ErrConfiguration, "num_loop_relin must be non-negative")
	case c.StateFreq <= 0:
		return errors.Wrap(ErrConfiguration, "state_freq must be positive")
	case c.EnforceGravMag && c.Gravity().Norm() == 0:
		return errors.Wrap(ErrConfiguration, "cannot enforce the magnitude of a zero gravity vector")
	}
	for _, s := range c.ViconSigmas {
		if s <= 0 || math.IsNaN(s) {
			return errors.Wrap(ErrConfiguration, "vicon_sigmas must be positive")
		}
	}
	return nil
}

// Rounds is the total number of build/solve rounds.
func (c Config) Rounds() int { return c.NumLoopRelin + 1 }

// Gravity returns the configured gravity vector.
func (c Config) Gravity() r3.Vector {
	return r3.Vector{X: c.GravInV[0], Y: c.GravInV[1], Z: c.GravInV[2]}
}

// ExtrinsicRotation returns the configured body-to-IMU rotation matrix.
func (c Config) ExtrinsicRotation() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), c.RBtoI[:]...))
}

// ExtrinsicTranslation returns the configured body origin in the IMU frame.
func (c Config) ExtrinsicTranslation() r3.Vector {
	return r3.Vector{X: c.PBinI[0], Y: c.PBinI[1], Z: c.PBinI[2]}
}

// IMUNoise returns the noise densities in propagator form.
func (c Config) IMUNoise() imu.Noise {
	return imu.Noise{
		GyroDensity:  c.GyroNoiseDensity,
		GyroWalk:     c.GyroRandomWalk,
		AccelDensity: c.AccelNoiseDensity,
		AccelWalk:    c.AccelRandomWalk,
	}
}

// ViconNoise returns the per-axis pose measurement sigmas.
func (c Config) ViconNoise() vicon.Noise {
	return vicon.Noise{
		Orient: r3.Vector{X: c.ViconSigmas[0], Y: c.ViconSigmas[1], Z: c.ViconSigmas[2]},
		Pos:    r3.Vector{X: c.ViconSigmas[3], Y: c.ViconSigmas[4], Z: c.ViconSigmas[5]},
	}
}
