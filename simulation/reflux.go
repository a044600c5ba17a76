package simulation

import (
	"context"

	"starsea/core"
	"starsea/distrib"
	"starsea/physics"
)

// Sides of a fine level's footprint in its parent.
const (
	west = iota
	east
	south
	north
)

// fluxRegister holds, for every parent face on the edge of a fine level's
// footprint, the parent's own flux and the fine fluxes averaged over the
// faces and sub-cycles that replace it. Slots are indexed
// ((layer*span)+t)*n+c, t running along the side.
type fluxRegister struct {
	n          int
	nx, ny, nz int // footprint in parent cells
	layers     int // fine layers per parent layer

	coarse, fine [4][]float64

	cw, fw *physics.Workspace
	flux   []float64
}

func (h *Hierarchy) newRegisters() []*fluxRegister {
	regs := make([]*fluxRegister, len(h.levels))
	for k := 1; k < len(h.levels); k++ {
		g, parent := h.levels[k].Grid, h.levels[k-1].Grid
		r := h.levels[k].R
		reg := &fluxRegister{
			n:      h.shared(k),
			nx:     g.Nx / r,
			ny:     g.Ny / r,
			nz:     parent.Nz,
			layers: g.Nz / parent.Nz,
			cw:     physics.NewWorkspace(parent.VecDim),
			fw:     physics.NewWorkspace(g.VecDim),
		}
		reg.flux = make([]float64, reg.n)
		for side := range reg.coarse {
			reg.coarse[side] = make([]float64, reg.span(side)*reg.nz*reg.n)
			reg.fine[side] = make([]float64, reg.span(side)*reg.nz*reg.n)
		}
		regs[k] = reg
	}
	return regs
}

func (f *fluxRegister) span(side int) int {
	if side == west || side == east {
		return f.ny
	}
	return f.nx
}

func (f *fluxRegister) slot(side, layer, t int) int {
	return (layer*f.span(side) + t) * f.n
}

// coarseFluxes records level k-1's fluxes across the edge of level k's
// footprint, for the faces whose outer cell lies in own.
func (h *Hierarchy) coarseFluxes(k int, own core.Range) {
	lvl, reg := h.levels[k], h.registers[k]
	parent, m := h.levels[k-1].Grid, h.models[k-1]
	ng := parent.Ng
	i0, j0 := lvl.I0+ng, lvl.J0+ng

	record := func(side, pk, t int, axis physics.Axis, a, b []float64) {
		n := reg.slot(side, pk, t)
		physics.FaceFlux(m, axis, a, b, reg.coarse[side][n:n+reg.n], reg.cw)
	}
	for pk := 0; pk < reg.nz; pk++ {
		if oc := i0 - 1; own.Contains(oc) {
			for t := 0; t < reg.ny; t++ {
				record(west, pk, t, physics.X, parent.Cell(oc, j0+t, pk), parent.Cell(oc+1, j0+t, pk))
			}
		}
		if oc := i0 + reg.nx; own.Contains(oc) {
			for t := 0; t < reg.ny; t++ {
				record(east, pk, t, physics.X, parent.Cell(oc-1, j0+t, pk), parent.Cell(oc, j0+t, pk))
			}
		}
		for t := 0; t < reg.nx; t++ {
			if !own.Contains(i0 + t) {
				continue
			}
			record(south, pk, t, physics.Y, parent.Cell(i0+t, j0-1, pk), parent.Cell(i0+t, j0, pk))
			record(north, pk, t, physics.Y, parent.Cell(i0+t, j0+reg.ny-1, pk), parent.Cell(i0+t, j0+reg.ny, pk))
		}
	}
}

// clearFine empties the fine half of level k's register before its
// sub-cycles.
func (h *Hierarchy) clearFine(k int) {
	for _, side := range h.registers[k].fine {
		clear(side)
	}
}

// fineFluxes adds the fluxes across level k's outer faces, in the columns
// own, to its register. It runs once per sub-cycle, before the update.
func (h *Hierarchy) fineFluxes(k int, own core.Range) {
	lvl, reg := h.levels[k], h.registers[k]
	g, m := lvl.Grid, h.models[k]
	r, ng := lvl.R, g.Ng
	weight := 1 / float64(r*r*reg.layers)

	add := func(side, layer, f int, axis physics.Axis, a, b []float64) {
		physics.FaceFlux(m, axis, a, b, reg.flux, reg.fw)
		n := reg.slot(side, layer/reg.layers, f/r)
		for c, v := range reg.flux {
			reg.fine[side][n+c] += weight * v
		}
	}
	lo, hi := ng, g.Nx+ng-1
	for layer := 0; layer < g.Nz; layer++ {
		if own.Contains(lo) {
			for fj := 0; fj < g.Ny; fj++ {
				add(west, layer, fj, physics.X, g.Cell(lo-1, fj+ng, layer), g.Cell(lo, fj+ng, layer))
			}
		}
		if own.Contains(hi) {
			for fj := 0; fj < g.Ny; fj++ {
				add(east, layer, fj, physics.X, g.Cell(hi, fj+ng, layer), g.Cell(hi+1, fj+ng, layer))
			}
		}
		for fi := max(own.Lo, lo); fi < min(own.Hi, hi+1); fi++ {
			add(south, layer, fi-ng, physics.Y, g.Cell(fi, ng-1, layer), g.Cell(fi, ng, layer))
			add(north, layer, fi-ng, physics.Y, g.Cell(fi, g.Ny+ng-1, layer), g.Cell(fi, g.Ny+ng, layer))
		}
	}
}

// reflux replaces the parent's fluxes across the edge of level k's
// footprint with the fine ones in the parent cells just outside it, so the
// parent loses exactly what the fine level gains. The x sides move between
// ranks when the fine edge column and the outer parent column have
// different owners.
func (h *Hierarchy) reflux(ctx context.Context, st *distrib.Stepper, k int, dt float64) error {
	lvl, reg := h.levels[k], h.registers[k]
	g, parent := lvl.Grid, h.levels[k-1].Grid
	ng := parent.Ng
	i0, j0 := lvl.I0+ng, lvl.J0+ng

	west0, east0 := i0-1, i0+reg.nx
	if err := st.Transfer(ctx, st.Owner(k, g.Ng), st.Owner(k-1, west0), reg.fine[west]); err != nil {
		return err
	}
	if err := st.Transfer(ctx, st.Owner(k, g.Nx+g.Ng-1), st.Owner(k-1, east0), reg.fine[east]); err != nil {
		return err
	}

	own := st.Owned(k - 1)
	correct := func(side, pk, t int, u []float64, scale float64) {
		n := reg.slot(side, pk, t)
		for c := 0; c < reg.n; c++ {
			u[c] += scale * (reg.coarse[side][n+c] - reg.fine[side][n+c])
		}
	}
	cx, cy := dt/parent.Dx, dt/parent.Dy
	for pk := 0; pk < reg.nz; pk++ {
		if own.Contains(west0) {
			for t := 0; t < reg.ny; t++ {
				correct(west, pk, t, parent.Cell(west0, j0+t, pk), cx)
			}
		}
		if own.Contains(east0) {
			for t := 0; t < reg.ny; t++ {
				correct(east, pk, t, parent.Cell(east0, j0+t, pk), -cx)
			}
		}
		for t := 0; t < reg.nx; t++ {
			if !own.Contains(i0 + t) {
				continue
			}
			correct(south, pk, t, parent.Cell(i0+t, j0-1, pk), cy)
			correct(north, pk, t, parent.Cell(i0+t, j0+reg.ny, pk), -cy)
		}
	}
	return nil
}
