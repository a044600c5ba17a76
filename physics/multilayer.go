package physics

import "starsea/core"

// Multilayer stacks shallow water layers, layer 0 on top. Each layer has
// the SWE flux; the layers couple through the pressure of the others and
// exchange mass at rate Q.
type Multilayer struct {
	SWE
}

func (m *Multilayer) Tag() core.Tag { return core.MultiLayer }

func (m *Multilayer) Source(s Stencil, out []float64) {
	for n := range out {
		out[n] = 0
	}
	g := s.Grid
	k := s.K
	u := s.Center()
	phiK := m.phi(u)
	rho := m.p.Rho

	for l := 0; l < g.Nz; l++ {
		if l == k {
			continue
		}
		c := 1.0
		if l < k {
			c = rho[l] / rho[k]
		}
		dphiX := (m.phi(s.At(1, 0, l)) - m.phi(s.At(-1, 0, l))) / (2 * g.Dx)
		dphiY := (m.phi(s.At(0, 1, l)) - m.phi(s.At(0, -1, l))) / (2 * g.Dy)
		out[1] -= phiK * c * dphiX
		out[2] -= phiK * c * dphiY
	}

	// mass rises from layer k+1 into layer k
	if q := m.p.Q; q != 0 {
		if k+1 < g.Nz {
			below := s.At(0, 0, k+1)
			for c := 0; c < 3; c++ {
				out[c] += q * below[c]
			}
		}
		if k > 0 {
			for c := 0; c < 3; c++ {
				out[c] -= q * u[c]
			}
		}
	}
}
