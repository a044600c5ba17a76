package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"starsea/core"
)

// SWE is the single-layer relativistic shallow water model.
//
// Conserved: D = Phi W, S_i = Phi W^2 v_i (covariant).
// Primitive: Phi, v^x, v^y.
type SWE struct {
	p *core.PhysicalParams
}

func (m *SWE) Tag() core.Tag   { return core.SingleLayer }
func (m *SWE) Dim() int        { return 3 }
func (m *SWE) Vertical() bool  { return false }
func (m *SWE) Complete([]float64) {}

func (m *SWE) React([]float64, float64) error { return nil }

// state recovers Phi, W and the contravariant velocity in closed form.
func (m *SWE) state(u []float64) (phi, w float64, v mgl64.Vec3) {
	d := u[0]
	if d <= 0 {
		return 0, 1, mgl64.Vec3{}
	}
	sDown := mgl64.Vec3{u[1], u[2], 0}
	sUp := m.p.Raise(sDown)
	s2 := sUp.Dot(sDown)
	w = math.Sqrt(1 + s2/(d*d))
	phi = d / w
	v = sUp.Mul(1 / (d * w))
	return phi, w, v
}

func (m *SWE) ConsToPrim(u, prim []float64) error {
	if !(u[0] > 0) {
		return ErrRecovery
	}
	phi, _, v := m.state(u)
	prim[0], prim[1], prim[2] = phi, v[0], v[1]
	return nil
}

func (m *SWE) PrimToCons(prim, u []float64) {
	phi := prim[0]
	vUp := mgl64.Vec3{prim[1], prim[2], 0}
	vDown := m.p.GammaDown.Mul3x1(vUp)
	w := 1 / math.Sqrt(1-vUp.Dot(vDown))
	u[0] = phi * w
	u[1] = phi * w * w * vDown[0]
	u[2] = phi * w * w * vDown[1]
}

func (m *SWE) Flux(axis Axis, u, f []float64) {
	phi, _, v := m.state(u)
	adv := m.p.Alpha*v[axis] - m.p.Beta[axis]
	f[0] = u[0] * adv
	f[1] = u[1] * adv
	f[2] = u[2] * adv
	if axis == X || axis == Y {
		f[1+int(axis)] += 0.5 * m.p.Alpha * phi * phi
	}
}

func (m *SWE) MaxSpeed(axis Axis, u []float64) float64 {
	phi, _, v := m.state(u)
	c := math.Sqrt(math.Max(phi, 0) * m.p.GammaUp.At(int(axis), int(axis)))
	return m.p.Alpha*(math.Abs(v[axis])+c) + math.Abs(m.p.Beta[axis])
}

func (m *SWE) Source(_ Stencil, out []float64) {
	for n := range out {
		out[n] = 0
	}
}

// phi is the geopotential of a conserved state.
func (m *SWE) phi(u []float64) float64 {
	phi, _, _ := m.state(u)
	return phi
}
