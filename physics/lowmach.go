package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"starsea/core"
)

// LowMachModel is the compressible model with sound waves filtered out: the
// pressure is pinned to the background pressure, so recovery is closed form
// and the signal speed is the advection speed.
type LowMachModel struct {
	Compressible
}

func (m *LowMachModel) Tag() core.Tag { return core.LowMach }

func (m *LowMachModel) Dim() int {
	return core.LowMach.VecDim(m.p.Burning)
}

func (m *LowMachModel) recover(u []float64) (prim, error) {
	d, tau := u[0], u[4]
	if !(d > 0) {
		return prim{}, fmt.Errorf("%w: density %g", ErrRecovery, d)
	}
	p0 := m.p.BackgroundPressure
	sDown := mgl64.Vec3{u[1], u[2], u[3]}
	sUp := m.p.Raise(sDown)
	e := tau + d + p0
	v2 := sUp.Dot(sDown) / (e * e)
	if !(v2 < 1) {
		return prim{}, fmt.Errorf("%w: superluminal state", ErrRecovery)
	}
	w := 1 / math.Sqrt(1-v2)
	st := prim{rho: d / w, p: p0, w: w, v: sUp.Mul(1 / e)}
	st.eps = e/(st.rho*w*w) - 1 - p0/st.rho
	if math.IsNaN(st.eps) {
		return prim{}, fmt.Errorf("%w: invalid state", ErrRecovery)
	}
	if m.Dim() > 5 {
		st.x = u[5] / d
	}
	return st, nil
}

func (m *LowMachModel) safe(u []float64) prim {
	st, err := m.recover(u)
	if err != nil {
		return prim{rho: math.Max(u[0], 0), w: 1, p: m.p.BackgroundPressure}
	}
	return st
}

func (m *LowMachModel) ConsToPrim(u, out []float64) error {
	st, err := m.recover(u)
	if err != nil {
		return err
	}
	writePrim(st, out)
	return nil
}

func (m *LowMachModel) PrimToCons(in, u []float64) {
	m.consFrom(in[0], mgl64.Vec3{in[1], in[2], in[3]}, in[4], m.p.BackgroundPressure, fuel(in), u)
}

func (m *LowMachModel) Flux(axis Axis, u, f []float64) {
	fluxFrom(m.p, m.safe(u), axis, u, f)
}

func (m *LowMachModel) MaxSpeed(axis Axis, u []float64) float64 {
	st := m.safe(u)
	return m.p.Alpha*math.Abs(st.v[axis]) + math.Abs(m.p.Beta[axis])
}

func (m *LowMachModel) Source(s Stencil, out []float64) {
	gravitySource(m.p, m.safe(s.Center()), s.Center(), out)
}

func (m *LowMachModel) Complete(u []float64) {
	eps := m.p.SeedEnergy
	p0 := m.p.BackgroundPressure
	h := 1 + eps
	if u[0] > 0 {
		h += p0 / u[0]
	}
	m.complete(u, eps, func(float64) float64 { return p0 }, h)
}

func (m *LowMachModel) React(u []float64, dt float64) error {
	if !m.p.Burning {
		return nil
	}
	st, err := m.recover(u)
	if err != nil {
		return err
	}
	x, eps, err := burn(m.p, st.rho, st.x, st.eps, dt)
	if err != nil {
		return err
	}
	deposit(u, st.eps, eps, x)
	return nil
}
