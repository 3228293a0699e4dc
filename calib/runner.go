package calib

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/nlls"
)

// Phase is the runner's position in the calibration loop.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseSolving
	PhaseAdvancing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "Building"
	case PhaseSolving:
		return "Solving"
	case PhaseAdvancing:
		return "Advancing"
	case PhaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Result carries the final estimates in export-ready form: the surviving
// keyframe times with their states, the body-to-IMU extrinsics, gravity in
// the capture frame, and the time offset (zero when not estimated).
type Result struct {
	Times  []float64
	States []nav.State

	RBtoI   *mat.Dense
	QBtoI   quaternion.Quaternion
	PBinI   r3.Vector
	Gravity r3.Vector
	Toff    float64

	Report nlls.Report
}

// Runner drives the build/solve/advance loop for the configured number of
// rounds. Extra rounds exist to refresh the preintegration linearization
// points (the bias estimates) that moved during optimization.
type Runner struct {
	asm   *Assembler
	opt   *nlls.Optimizer
	log   golog.Logger
	phase Phase
}

// NewRunner pairs an assembler with an optimizer. A nil logger falls back to
// a development logger.
func NewRunner(asm *Assembler, opt *nlls.Optimizer, log golog.Logger) *Runner {
	if log == nil {
		log = golog.NewDevelopmentLogger("calib")
	}
	return &Runner{asm: asm, opt: opt, log: log}
}

// Phase reports where in the loop the runner currently is.
func (r *Runner) Phase() Phase { return r.phase }

// Run executes the configured rounds and returns the final estimates.
// Unknowns are seeded on the first round only; later rounds rebuild the
// measurements around the advanced estimates.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.asm.Config()
	var report nlls.Report

	for round := 0; round < cfg.Rounds(); round++ {
		r.phase = PhaseBuilding
		t0 := time.Now()
		graph, err := r.asm.Build(ctx, round == 0)
		if err != nil {
			return nil, err
		}
		t1 := time.Now()

		r.phase = PhaseSolving
		r.log.Infof("begin optimization")
		vals, rep, err := r.opt.Optimize(graph, r.asm.Values())
		if err != nil {
			return nil, err
		}
		report = rep
		r.log.Infof("done optimization (%d iterations, error %.6e -> %.6e)",
			rep.Iterations, rep.InitialError, rep.FinalError)
		t2 := time.Now()

		r.phase = PhaseAdvancing
		r.asm.Advance(vals)
		if cfg.EstimateToffViconToImu {
			r.log.Infof("current t_off = %.3f", vals.At(T(0)).(nav.Scalar).V)
		}
		r.log.Infof("%.4f to build", t1.Sub(t0).Seconds())
		r.log.Infof("%.4f to optimize", t2.Sub(t1).Seconds())
		r.log.Infof("%.4f total (round %d)", t2.Sub(t0).Seconds(), round)
	}

	r.phase = PhaseDone
	return r.result(report)
}

// result snapshots the unknown store into export form.
func (r *Runner) result(report nlls.Report) (*Result, error) {
	vals := r.asm.Values()
	cat := r.asm.Catalog()

	res := &Result{Report: report}
	for _, t := range cat.Times() {
		id, ok := cat.Index(t)
		if !ok || !vals.Has(X(id)) {
			return nil, errors.Wrapf(ErrInternalConsistency, "missing state for keyframe %.9f", t)
		}
		res.Times = append(res.Times, t)
		res.States = append(res.States, vals.At(X(id)).(nav.State))
	}

	rot := vals.At(C(0)).(nav.Rotation)
	res.QBtoI = rot.Q
	res.RBtoI = nav.RotationMatrix(rot.Q)
	res.PBinI = vals.At(C(1)).(nav.Vec3).V
	res.Gravity = vals.At(G(0)).(nav.Vec3).V
	if r.asm.Config().EstimateToffViconToImu {
		res.Toff = vals.At(T(0)).(nav.Scalar).V
	}
	return res, nil
}
