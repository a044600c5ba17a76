package config

import (
	"math"
	"strings"

	"starsea/core"
	"starsea/simulation"
)

// state is the primitive height and velocity at a point.
type state func(x, y float64) (h, vx, vy float64)

// profile builds the initial condition named by s.Initial: "still" water
// at rest, a "gaussian" hump, or a "dam-break" step at the domain centre.
func profile(s Settings) (state, error) {
	h0, a := s.InitialHeight, s.InitialAmplitude
	if !(h0 > 0) || !(h0+math.Min(a, 0) > 0) {
		return nil, core.Configf("initial_height", "height must stay positive, got %g with amplitude %g", h0, a)
	}
	vx, vy := s.InitialVx, s.InitialVy
	if !(vx*vx+vy*vy < 1) {
		return nil, core.Configf("initial_vx", "velocity (%g, %g) is not below the speed of light", vx, vy)
	}
	cx, cy := (s.Xmin+s.Xmax)/2, (s.Ymin+s.Ymax)/2

	switch strings.ToLower(strings.TrimSpace(s.Initial)) {
	case "still":
		return func(float64, float64) (float64, float64, float64) { return h0, 0, 0 }, nil
	case "gaussian":
		w2 := 2 * s.InitialWidth * s.InitialWidth
		if !(w2 > 0) {
			return nil, core.Configf("initial_width", "width must be positive, got %g", s.InitialWidth)
		}
		return func(x, y float64) (float64, float64, float64) {
			r2 := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			return h0 + a*math.Exp(-r2/w2), vx, vy
		}, nil
	case "dam-break", "dambreak":
		return func(x, _ float64) (float64, float64, float64) {
			if x < cx {
				return h0 + a, vx, vy
			}
			return h0, vx, vy
		}, nil
	}
	return nil, core.Configf("initial", "unknown initial condition %q, want still, gaussian or dam-break", s.Initial)
}

// Seed builds the initial condition on the coarsest level of h and hands it
// to InitialData. Compressible levels start with specific internal energy
// seed_energy and unburnt fuel.
func (s Settings) Seed(h *simulation.Hierarchy) error {
	at, err := profile(s)
	if err != nil {
		return err
	}
	g := h.Level(0).Grid
	m := h.Model(0)

	arrays := make([][]float64, g.VecDim)
	for c := range arrays {
		arrays[c] = make([]float64, g.Interior())
	}
	prim := make([]float64, max(g.VecDim, 6))
	u := make([]float64, g.VecDim)
	for k := 0; k < g.Nz; k++ {
		for j := 0; j < g.Ny; j++ {
			for i := 0; i < g.Nx; i++ {
				hgt, vx, vy := at(g.Xs[i+g.Ng]+g.Dx/2, g.Ys[j+g.Ng]+g.Dy/2)
				if g.VecDim == core.SharedComponents {
					prim[0], prim[1], prim[2] = hgt, vx, vy
				} else {
					prim[0], prim[1], prim[2], prim[3] = hgt, vx, vy, 0
					prim[4], prim[5] = h.Physical().SeedEnergy, 1
				}
				m.PrimToCons(prim, u)
				n := (k*g.Ny+j)*g.Nx + i
				for c := range arrays {
					arrays[c][n] = u[c]
				}
			}
		}
	}
	return h.InitialData(arrays...)
}
