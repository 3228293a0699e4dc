package calib

import "github.com/pkg/errors"

// Error kinds surfaced by the calibration pipeline. Callers classify wrapped
// failures with errors.Is.
var (
	// ErrConfiguration marks fatal setup problems: empty keyframe input,
	// every keyframe filtered away, or invalid settings.
	ErrConfiguration = errors.New("calib: invalid configuration")

	// ErrMeasurementGap marks a keyframe whose window the measurements
	// cannot cover; the keyframe is dropped and the build continues.
	ErrMeasurementGap = errors.New("calib: measurement gap")

	// ErrNumericalSingularity marks a measurement covariance that cannot be
	// inverted.
	ErrNumericalSingularity = errors.New("calib: numerical singularity")

	// ErrInternalConsistency marks violated invariants between pipeline
	// stages, such as a preintegrated duration disagreeing with its window.
	ErrInternalConsistency = errors.New("calib: internal consistency violation")
)
