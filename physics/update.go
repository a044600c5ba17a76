package physics

import (
	"starsea/core"
)

// Workspace is the scratch space of one worker. It is not safe for
// concurrent use.
type Workspace struct {
	fa, fb, left, right, src []float64
}

func NewWorkspace(dim int) *Workspace {
	return &Workspace{
		fa:    make([]float64, dim),
		fb:    make([]float64, dim),
		left:  make([]float64, dim),
		right: make([]float64, dim),
		src:   make([]float64, dim),
	}
}

// rusanov writes the local Lax-Friedrichs flux between a and b into out.
func (w *Workspace) rusanov(m Model, axis Axis, a, b, out []float64) {
	m.Flux(axis, a, w.fa)
	m.Flux(axis, b, w.fb)
	lambda := m.MaxSpeed(axis, a)
	if s := m.MaxSpeed(axis, b); s > lambda {
		lambda = s
	}
	for c := range out {
		out[c] = 0.5*(w.fa[c]+w.fb[c]) - 0.5*lambda*(b[c]-a[c])
	}
}

// FaceFlux writes the flux Update uses across the face between a and b,
// a on the low side. Only the first len(out) components are computed.
func FaceFlux(m Model, axis Axis, a, b, out []float64, w *Workspace) {
	w.rusanov(m, axis, a, b, out)
}

// Update advances cell (i, j, k) of in by dt and writes the result into out,
// which must have the cell's length. in is only read.
func Update(m Model, in *core.Grid, out []float64, i, j, k int, dt float64, w *Workspace) error {
	s := Stencil{Grid: in, I: i, J: j, K: k}
	u := s.Center()
	copy(out, u)

	w.rusanov(m, X, s.At(-1, 0, k), u, w.left)
	w.rusanov(m, X, u, s.At(1, 0, k), w.right)
	for c := range out {
		out[c] -= dt / in.Dx * (w.right[c] - w.left[c])
	}

	w.rusanov(m, Y, s.At(0, -1, k), u, w.left)
	w.rusanov(m, Y, u, s.At(0, 1, k), w.right)
	for c := range out {
		out[c] -= dt / in.Dy * (w.right[c] - w.left[c])
	}

	if m.Vertical() && in.Nz > 1 {
		w.rusanov(m, Z, s.At(0, 0, k-1), u, w.left)
		w.rusanov(m, Z, u, s.At(0, 0, k+1), w.right)
		for c := range out {
			out[c] -= dt / in.Dz * (w.right[c] - w.left[c])
		}
	}

	m.Source(s, w.src)
	for c := range out {
		out[c] += dt * w.src[c]
	}

	return m.React(out, dt)
}
