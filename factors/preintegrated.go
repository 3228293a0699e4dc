package factors

import (
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/imu"
	"github.com/mfkiwl/vicon2gt/nav"
	"github.com/mfkiwl/vicon2gt/nlls"
)

// Preintegrated ties two consecutive navigation states and the gravity
// unknown to the inertial motion integrated between them. The preintegrated
// deltas are corrected to first order around the biases they were integrated
// with, so the factor stays valid as the bias estimates move.
type Preintegrated struct {
	IKey    nlls.Key
	JKey    nlls.Key
	GravKey nlls.Key
	delta   imu.Delta
	info    *mat.SymDense
}

// NewPreintegrated builds the factor from a preintegrated delta and its 15x15
// information, both ordered [theta, bg, v, ba, p].
func NewPreintegrated(i, j, grav nlls.Key, delta imu.Delta, info *mat.SymDense) *Preintegrated {
	return &Preintegrated{IKey: i, JKey: j, GravKey: grav, delta: delta, info: info}
}

func (f *Preintegrated) Keys() []nlls.Key {
	return []nlls.Key{f.IKey, f.JKey, f.GravKey}
}

func (f *Preintegrated) Dim() int { return 15 }

func (f *Preintegrated) Linearize(vals *nlls.Values) (nlls.Linearization, error) {
	xi := vals.At(f.IKey).(nav.State)
	xj := vals.At(f.JKey).(nav.State)
	g := vals.At(f.GravKey).(nav.Vec3).V

	d := f.delta
	dt := d.DT
	Ri := nav.RotationMatrix(xi.Orientation)
	Rj := nav.RotationMatrix(xj.Orientation)

	// First-order bias correction of the preintegrated deltas.
	dbg := xi.GyroBias.Sub(d.GyroBias)
	dba := xi.AccelBias.Sub(d.AccelBias)
	jqdb := nav.Rotate(d.Jq, dbg)
	var dRhat mat.Dense
	dRhat.Mul(d.DR, nav.Exp(jqdb))
	dvhat := d.DV.Add(nav.Rotate(d.Jb, dbg)).Add(nav.Rotate(d.Ja, dba))
	dphat := d.DP.Add(nav.Rotate(d.Hb, dbg)).Add(nav.Rotate(d.Ha, dba))

	var rel, rot mat.Dense
	rel.Mul(Ri.T(), Rj)
	rot.Mul(dRhat.T(), &rel)
	rtheta := nav.Log(&rot)

	w := xj.Velocity.Sub(xi.Velocity).Add(g.Mul(dt))
	rv := nav.Rotate(Ri.T(), w).Sub(dvhat)
	u := xj.Position.Sub(xi.Position).Sub(xi.Velocity.Mul(dt)).Add(g.Mul(0.5 * dt * dt))
	rp := nav.Rotate(Ri.T(), u).Sub(dphat)
	rbg := xj.GyroBias.Sub(xi.GyroBias)
	rba := xj.AccelBias.Sub(xi.AccelBias)

	resid := mat.NewVecDense(15, []float64{
		rtheta.X, rtheta.Y, rtheta.Z,
		rbg.X, rbg.Y, rbg.Z,
		rv.X, rv.Y, rv.Z,
		rba.X, rba.Y, rba.Z,
		rp.X, rp.Y, rp.Z,
	})

	jri := nav.JrInv(rtheta)

	ji := mat.NewDense(15, 15, nil)
	var rot0, tmp mat.Dense
	rot0.Mul(Rj.T(), Ri)
	tmp.Mul(jri, &rot0)
	setBlock(ji, 0, 0, scaled(-1, &tmp))
	var bgc, jrq mat.Dense
	jrq.Mul(nav.Jr(jqdb), d.Jq)
	bgc.Mul(jri, nav.Exp(rtheta.Mul(-1)))
	var bgj mat.Dense
	bgj.Mul(&bgc, &jrq)
	setBlock(ji, 0, 3, scaled(-1, &bgj))
	setDiag(ji, 3, 3, -1)
	setBlock(ji, 6, 0, nav.Hat(nav.Rotate(Ri.T(), w)))
	setBlock(ji, 6, 3, scaled(-1, d.Jb))
	setBlock(ji, 6, 6, scaled(-1, Ri.T()))
	setBlock(ji, 6, 9, scaled(-1, d.Ja))
	setDiag(ji, 9, 9, -1)
	setBlock(ji, 12, 0, nav.Hat(nav.Rotate(Ri.T(), u)))
	setBlock(ji, 12, 3, scaled(-1, d.Hb))
	setBlock(ji, 12, 6, scaled(-dt, Ri.T()))
	setBlock(ji, 12, 9, scaled(-1, d.Ha))
	setBlock(ji, 12, 12, scaled(-1, Ri.T()))

	jj := mat.NewDense(15, 15, nil)
	setBlock(jj, 0, 0, jri)
	setDiag(jj, 3, 3, 1)
	setBlock(jj, 6, 6, Ri.T())
	setDiag(jj, 9, 9, 1)
	setBlock(jj, 12, 12, Ri.T())

	jg := mat.NewDense(15, 3, nil)
	setBlock(jg, 6, 0, scaled(dt, Ri.T()))
	setBlock(jg, 12, 0, scaled(0.5*dt*dt, Ri.T()))

	return nlls.Linearization{
		Resid: resid,
		Jac:   []*mat.Dense{ji, jj, jg},
		Info:  f.info,
	}, nil
}
