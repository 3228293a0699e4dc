// Package calib wires measurements into the calibration problem and runs it:
// keyframe filtering, graph assembly, the relinearization loop, and export of
// the estimated trajectory and calibration.
package calib

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/factors"
	"github.com/mfkiwl/vicon2gt/imu"
	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/nlls"
	"github.com/mfkiwl/vicon2gt/vicon"
)

// Sigmas of the stabilizing priors.
const (
	gravMagSigma = 1e-10
	toffSigma    = 0.02 // seconds
)

// probeMargin is how far, in seconds, around each corrected keyframe time the
// pose interpolation must stay valid, leaving the time-offset estimate room
// to move.
const probeMargin = 1.0

// Assembler builds the measurement graph over the calibration unknowns from
// the keyframe catalog, the pose interpolator, and the inertial propagator.
// The unknown store persists across builds so later rounds relinearize
// around the previous solution.
type Assembler struct {
	cfg    Config
	cat    *Catalog
	interp *vicon.Interpolator
	prop   *imu.Propagator
	vals   *nlls.Values
	log    golog.Logger

	gravMag  float64
	poseInfo *mat.SymDense
}

// NewAssembler prepares an assembler with an empty unknown store. A nil
// logger falls back to a development logger.
func NewAssembler(cfg Config, cat *Catalog, interp *vicon.Interpolator,
	prop *imu.Propagator, log golog.Logger) *Assembler {
	if log == nil {
		log = golog.NewDevelopmentLogger("calib")
	}
	return &Assembler{
		cfg:      cfg,
		cat:      cat,
		interp:   interp,
		prop:     prop,
		vals:     nlls.NewValues(),
		log:      log,
		gravMag:  cfg.Gravity().Norm(),
		poseInfo: cfg.ViconNoise().Information(),
	}
}

// Config returns the assembler's configuration.
func (a *Assembler) Config() Config { return a.cfg }

// Values returns the unknown store.
func (a *Assembler) Values() *nlls.Values { return a.vals }

// Catalog returns the keyframe catalog, reflecting any drops so far.
func (a *Assembler) Catalog() *Catalog { return a.cat }

// Advance replaces the unknown store, moving the estimates forward between
// rounds.
func (a *Assembler) Advance(vals *nlls.Values) { a.vals = vals }

// Build constructs a fresh graph at the current estimates. With initialize
// set, the calibration unknowns are seeded from configuration and each
// navigation state from its measured pose; otherwise the stored estimates
// are kept and only the measurements are re-evaluated. Keyframes whose
// measurements cannot be assembled are dropped together with their unknowns.
// Cancelling ctx stops the scan at the next keyframe and returns the partial
// graph.
func (a *Assembler) Build(ctx context.Context, initialize bool) (*nlls.Graph, error) {
	a.log.Infof("building the graph (might take a while)")
	graph := nlls.NewGraph()

	if initialize {
		a.vals.Insert(C(0), nav.Rotation{Q: nav.QuatFromRotation(a.cfg.ExtrinsicRotation())})
		a.vals.Insert(C(1), nav.Vec3{V: a.cfg.ExtrinsicTranslation()})
		a.vals.Insert(G(0), nav.Vec3{V: a.cfg.Gravity()})
		if a.cfg.EstimateToffViconToImu {
			a.vals.Insert(T(0), nav.Scalar{V: a.cfg.ToffImuToVicon})
		}
	}

	toff := a.cfg.ToffImuToVicon
	if a.cfg.EstimateToffViconToImu {
		toff = a.vals.At(T(0)).(nav.Scalar).V
		graph.Add(factors.NewPrior(T(0), []float64{toff}, []float64{toffSigma}))
		a.log.Infof("current time offset is %.4f", toff)
	}

	if a.cfg.EnforceGravMag {
		graph.Add(factors.NewGravityMagnitude(G(0), a.gravMag, gravMagSigma))
	} else {
		a.log.Infof("current gravity magnitude is %.4f", a.vals.At(G(0)).(nav.Vec3).V.Norm())
	}

	prevID := -1
	prevTime := 0.0
	kept := 0

	for _, t := range a.cat.Times() {
		select {
		case <-ctx.Done():
			a.log.Warnf("build interrupted, continuing with %d keyframes", kept)
			return a.finish(ctx, graph, kept)
		default:
		}

		meas, err := a.poseAt(t + toff)
		if err != nil {
			if !errors.Is(err, ErrMeasurementGap) {
				return nil, err
			}
			a.drop(t, "no vicon pose found")
			continue
		}

		id, ok := a.cat.Index(t)
		if !ok {
			return nil, errors.Wrapf(ErrInternalConsistency, "keyframe %.9f missing from catalog index", t)
		}

		// Preintegrate up from the previous kept keyframe first, so a gap
		// drops this keyframe before any of its factors enter the graph.
		var delta imu.Delta
		var deltaInfo *mat.SymDense
		if prevID >= 0 {
			prev := a.vals.At(X(prevID)).(nav.State)
			delta, err = a.prop.Propagate(prevTime, t, prev.GyroBias, prev.AccelBias)
			if err != nil {
				if errors.Is(err, imu.ErrOutOfRange) {
					a.drop(t, "no bounding inertial data")
					continue
				}
				return nil, errors.Wrapf(err, "preintegrating [%.6f, %.6f]", prevTime, t)
			}
			if math.Abs(delta.DT-(t-prevTime)) > 1e-9 {
				return nil, errors.Wrapf(ErrInternalConsistency,
					"preintegrated %.9fs over a %.9fs window", delta.DT, t-prevTime)
			}
			deltaInfo, err = delta.Information()
			if err != nil {
				return nil, errors.Wrapf(ErrNumericalSingularity,
					"preintegrated covariance over [%.6f, %.6f]: %v", prevTime, t, err)
			}
		}

		if initialize {
			a.vals.Insert(X(id), seedState(meas, a.cfg))
		}

		if a.cfg.EstimateToffViconToImu {
			graph.Add(factors.NewViconPoseTimeoffset(X(id), C(0), C(1), T(0), t, a.interp, a.poseInfo))
		} else {
			graph.Add(factors.NewViconPose(X(id), C(0), C(1), meas, a.poseInfo))
		}
		if prevID >= 0 {
			graph.Add(factors.NewPreintegrated(X(prevID), X(id), G(0), delta, deltaInfo))
		}
		kept++
		prevID, prevTime = id, t
	}

	return a.finish(ctx, graph, kept)
}

func (a *Assembler) finish(ctx context.Context, graph *nlls.Graph, kept int) (*nlls.Graph, error) {
	if kept == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrap(ErrConfiguration, "no keyframes survived the build")
	}
	a.log.Infof("graph factors - %d", graph.Len())
	a.log.Infof("graph keyframes - %d", kept)
	return graph, nil
}

// poseAt interpolates the measured pose at a corrected keyframe time,
// reporting ErrMeasurementGap unless the whole probe window around it stays
// inside the capture span.
func (a *Assembler) poseAt(t float64) (nav.Pose, error) {
	if !a.interp.Covers(t-probeMargin) || !a.interp.Covers(t+probeMargin) || !a.interp.Covers(t) {
		return nav.Pose{}, errors.Wrapf(ErrMeasurementGap, "probe window around %.6f", t)
	}
	meas, err := a.interp.Pose(t)
	if err != nil {
		return nav.Pose{}, errors.Wrapf(ErrMeasurementGap, "pose at %.6f: %v", t, err)
	}
	return meas, nil
}

// drop removes a keyframe and any state already stored for it. The dropped
// keyframe's measurements never enter the graph.
func (a *Assembler) drop(t float64, reason string) {
	a.log.Infof("    - skipping keyframe time %.9f (%s)", t, reason)
	if id, ok := a.cat.Index(t); ok && a.vals.Has(X(id)) {
		a.vals.Erase(X(id))
	}
	a.cat.Drop(t)
}

// seedState initializes a navigation state from a measured body pose and the
// configured extrinsics, with zero velocity and biases.
func seedState(meas nav.Pose, cfg Config) nav.State {
	Rm := nav.RotationMatrix(meas.Rot) // body to reference
	Rc := cfg.ExtrinsicRotation()      // body to IMU
	var Riv mat.Dense
	Riv.Mul(Rm, Rc.T())
	pos := meas.Pos.Sub(nav.Rotate(&Riv, cfg.ExtrinsicTranslation()))
	return nav.NewState(nav.QuatFromRotation(&Riv), r3.Vector{}, r3.Vector{}, r3.Vector{}, pos)
}
