package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"starsea/core"
)

// Compressible is relativistic Euler in the Valencia formulation with a
// gamma-law equation of state.
//
// Conserved: D, S_x, S_y, S_z, tau and, when burning, D X.
// Primitive: rho, v^x, v^y, v^z, eps and, when burning, X.
type Compressible struct {
	p *core.PhysicalParams
}

const (
	recoveryIterations = 60
	recoveryTolerance  = 1e-12
)

func (m *Compressible) Tag() core.Tag  { return core.Compressible }
func (m *Compressible) Vertical() bool { return true }

func (m *Compressible) Dim() int {
	return core.Compressible.VecDim(m.p.Burning)
}

// prim is the recovered state of one cell.
type prim struct {
	rho, eps, p, w, x float64
	v                 mgl64.Vec3 // contravariant
}

func (s prim) enthalpy() float64 {
	return 1 + s.eps + s.p/s.rho
}

// recover inverts the conserved state with a Newton iteration on the
// pressure.
func (m *Compressible) recover(u []float64) (prim, error) {
	d, tau := u[0], u[4]
	if !(d > 0) {
		return prim{}, fmt.Errorf("%w: density %g", ErrRecovery, d)
	}
	sDown := mgl64.Vec3{u[1], u[2], u[3]}
	s2 := m.p.Raise(sDown).Dot(sDown)
	gamma := m.p.Gamma

	pmin := math.Max(math.Sqrt(s2)-tau-d, 0) + 1e-15
	pr := math.Max((gamma-1)*tau, pmin)

	eval := func(pr float64) (float64, prim, bool) {
		e := tau + d + pr
		v2 := s2 / (e * e)
		if !(v2 < 1) {
			return 0, prim{}, false
		}
		w := 1 / math.Sqrt(1-v2)
		rho := d / w
		eps := e/(rho*w*w) - 1 - pr/rho
		s := prim{rho: rho, eps: eps, p: pr, w: w}
		return (gamma-1)*rho*eps - pr, s, true
	}

	for it := 0; ; it++ {
		if it == recoveryIterations {
			return prim{}, fmt.Errorf("%w: pressure iteration did not converge", ErrRecovery)
		}
		f, s, ok := eval(pr)
		if !ok {
			pr = 2*pr + pmin
			continue
		}
		cs2 := gamma * pr / (s.rho * s.enthalpy())
		v2 := 1 - 1/(s.w*s.w)
		next := pr - f/(v2*cs2-1)
		if next < pmin {
			next = 0.5 * (pr + pmin)
		}
		done := math.Abs(next-pr) <= recoveryTolerance*math.Max(pr, 1e-300)
		pr = next
		if done {
			break
		}
	}
	_, st, ok := eval(pr)
	if !ok || math.IsNaN(st.eps) {
		return prim{}, fmt.Errorf("%w: invalid state", ErrRecovery)
	}
	e := tau + d + st.p
	st.v = m.p.Raise(sDown).Mul(1 / e)
	if m.Dim() > 5 {
		st.x = u[5] / d
	}
	return st, nil
}

// safe recovers a state for the flux, falling back to dust at rest when the
// recovery fails.
func (m *Compressible) safe(u []float64) prim {
	st, err := m.recover(u)
	if err != nil {
		d := math.Max(u[0], 0)
		return prim{rho: d, w: 1, eps: 0, p: 0}
	}
	return st
}

func (m *Compressible) ConsToPrim(u, out []float64) error {
	st, err := m.recover(u)
	if err != nil {
		return err
	}
	writePrim(st, out)
	return nil
}

func writePrim(st prim, out []float64) {
	out[0] = st.rho
	out[1], out[2], out[3] = st.v[0], st.v[1], st.v[2]
	out[4] = st.eps
	if len(out) > 5 {
		out[5] = st.x
	}
}

func (m *Compressible) PrimToCons(in, u []float64) {
	rho, eps := in[0], in[4]
	m.consFrom(rho, mgl64.Vec3{in[1], in[2], in[3]}, eps, (m.p.Gamma-1)*rho*eps, fuel(in), u)
}

// consFrom builds the conserved state for a given pressure.
func (m *Compressible) consFrom(rho float64, vUp mgl64.Vec3, eps, pr, x float64, u []float64) {
	vDown := m.p.GammaDown.Mul3x1(vUp)
	w := 1 / math.Sqrt(1-vUp.Dot(vDown))
	h := 1 + eps + pr/rho
	u[0] = rho * w
	u[1] = rho * h * w * w * vDown[0]
	u[2] = rho * h * w * w * vDown[1]
	u[3] = rho * h * w * w * vDown[2]
	u[4] = rho*h*w*w - pr - u[0]
	if len(u) > 5 {
		u[5] = u[0] * x
	}
}

func fuel(prim []float64) float64 {
	if len(prim) > 5 {
		return prim[5]
	}
	return 0
}

func (m *Compressible) Flux(axis Axis, u, f []float64) {
	fluxFrom(m.p, m.safe(u), axis, u, f)
}

func fluxFrom(p *core.PhysicalParams, st prim, axis Axis, u, f []float64) {
	adv := p.Alpha*st.v[axis] - p.Beta[axis]
	for c := range f {
		f[c] = u[c] * adv
	}
	f[1+int(axis)] += p.Alpha * st.p
	f[4] += p.Alpha * st.p * st.v[axis]
}

func (m *Compressible) MaxSpeed(axis Axis, u []float64) float64 {
	st := m.safe(u)
	cs := 0.0
	if st.rho > 0 {
		cs = math.Sqrt(math.Max(m.p.Gamma*st.p/(st.rho*st.enthalpy()), 0))
	}
	v := math.Abs(st.v[axis])
	lambda := (v + cs*math.Sqrt(m.p.GammaUp.At(int(axis), int(axis)))) / (1 + v*cs)
	return m.p.Alpha*lambda + math.Abs(m.p.Beta[axis])
}

func (m *Compressible) Source(s Stencil, out []float64) {
	gravitySource(m.p, m.safe(s.Center()), s.Center(), out)
}

// gravitySource pulls along -z with the surface gravity of the star.
func gravitySource(p *core.PhysicalParams, st prim, u, out []float64) {
	for n := range out {
		out[n] = 0
	}
	g := p.Gravity()
	if g == 0 {
		return
	}
	out[3] = -p.Alpha * g * (u[4] + st.p + u[0])
	out[4] = -p.Alpha * g * u[3]
}

// Complete turns shallow water data (D, S_x, S_y) into a compressible state
// at rest vertically with specific internal energy SeedEnergy.
func (m *Compressible) Complete(u []float64) {
	eps := m.p.SeedEnergy
	h := 1 + m.p.Gamma*eps
	m.complete(u, eps, func(rho float64) float64 { return (m.p.Gamma - 1) * rho * eps }, h)
}

func (m *Compressible) complete(u []float64, eps float64, pressure func(rho float64) float64, h float64) {
	d := u[0]
	if d <= 0 {
		for c := 3; c < len(u); c++ {
			u[c] = 0
		}
		return
	}
	sDown := mgl64.Vec3{u[1], u[2], 0}
	s2 := m.p.Raise(sDown).Dot(sDown)
	var rho, w float64
	for it := 0; it < 4; it++ {
		// S = rho h W^2 v and D = rho W give W v = S / (D h)
		w = math.Sqrt(1 + s2/(d*d*h*h))
		rho = d / w
		h = 1 + eps + pressure(rho)/rho
	}
	u[3] = 0
	u[4] = rho*h*w*w - pressure(rho) - d
	if len(u) > 5 {
		u[5] = d
	}
}

func (m *Compressible) React(u []float64, dt float64) error {
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
