package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"starsea/boundary"
	"starsea/core"
	"starsea/ctxlog"
	"starsea/distrib"
)

func (h *Hierarchy) periodic(k int) bool {
	return k == 0 && h.params.Periodic
}

// Run advances the hierarchy by Nt coarse steps, writing the print levels
// every Dprint steps. Any failure aborts every rank; the last snapshot
// written is the point to resume from.
func (h *Hierarchy) Run(ctx context.Context, st *distrib.Stepper) error {
	log := ctxlog.FromContext(ctx).With("rank", st.Rank())
	start := time.Now()
	log.Info("run starting", "from_step", h.step, "steps", h.params.Nt, "hierarchy", h)

	for n := 0; n < h.params.Nt; n++ {
		stepStart := time.Now()
		if err := h.Step(ctx, st); err != nil {
			if !errors.Is(err, distrib.ErrAborted) {
				st.Abort(err)
			}
			return fmt.Errorf("step %d: %w", h.step+1, err)
		}
		log.Debug("step complete", "step", h.step, "elapsed", time.Since(stepStart))

		if h.params.Dprint > 0 && h.step%h.params.Dprint == 0 {
			if err := h.snapshot(ctx, st); err != nil {
				return err
			}
		}
	}
	log.Info("run complete", "step", h.step, "elapsed", time.Since(start))
	return nil
}

// Step takes one coarse step: halos and boundaries on every level, then the
// recursive update from the coarsest level down.
func (h *Hierarchy) Step(ctx context.Context, st *distrib.Stepper) error {
	for k, lvl := range h.levels {
		if err := st.ExchangeHalos(ctx, k, lvl.Grid); err != nil {
			return err
		}
	}
	for k, lvl := range h.levels {
		boundary.Enforce(lvl.Grid, h.periodic(k))
	}
	if err := h.evolve(ctx, st, 0, h.dt); err != nil {
		return err
	}
	h.step++
	return nil
}

// evolve updates level k by dt, then sub-cycles the next finer level R
// times inside the ghost band prolongated from the updated level k. The fine
// result is restricted back and the parent cells around it are refluxed.
func (h *Hierarchy) evolve(ctx context.Context, st *distrib.Stepper, k int, dt float64) error {
	lvl := h.levels[k]
	last := k+1 == len(h.levels)
	if !last {
		h.coarseFluxes(k+1, st.Owned(k))
	}
	if err := h.dispatch.Evolve(ctx, lvl, h.models[k], st.Owned(k), dt); err != nil {
		return err
	}
	if last {
		return nil
	}

	if err := st.ExchangeHalos(ctx, k, lvl.Grid); err != nil {
		return err
	}
	if k == 0 {
		boundary.Enforce(lvl.Grid, h.periodic(k))
	}
	h.prolongate(k+1, st.Extent(k+1))

	fine := h.levels[k+1]
	h.clearFine(k + 1)
	for s := 0; s < fine.R; s++ {
		if err := st.ExchangeHalos(ctx, k+1, fine.Grid); err != nil {
			return err
		}
		h.fineFluxes(k+1, st.Owned(k+1))
		if err := h.evolve(ctx, st, k+1, dt/float64(fine.R)); err != nil {
			return err
		}
	}
	h.restrict(k+1, st.Owned(k+1))
	return h.reflux(ctx, st, k+1, dt)
}

func compressible(t core.Tag) bool {
	return t == core.Compressible || t == core.LowMach
}

// shared is the number of leading components level k takes from its parent.
// Models of one family share the whole state; otherwise only density and
// horizontal momentum carry over.
func (h *Hierarchy) shared(k int) int {
	parent, fine := h.levels[k-1], h.levels[k]
	if compressible(parent.Model) == compressible(fine.Model) {
		return min(parent.Grid.VecDim, fine.Grid.VecDim)
	}
	return core.SharedComponents
}

// parentCell returns the parent cell covering cell (i, j, layer) of level
// k. Indices are ghost-inclusive on both levels.
func (h *Hierarchy) parentCell(k, i, j, layer int) []float64 {
	lvl := h.levels[k]
	g, parent := lvl.Grid, h.levels[k-1].Grid
	pi := lvl.I0 + floorDiv(i-g.Ng, lvl.R) + parent.Ng
	pj := lvl.J0 + floorDiv(j-g.Ng, lvl.R) + parent.Ng
	return parent.Cell(pi, pj, layer*parent.Nz/g.Nz)
}

// inject fills every cell of level k from its parent, completing the
// components the parent lacks with the level's model.
func (h *Hierarchy) inject(k int) {
	g := h.levels[k].Grid
	n := h.shared(k)
	m := h.models[k]
	for layer := 0; layer < g.Nz; layer++ {
		for j := 0; j < g.TotalY(); j++ {
			for i := 0; i < g.TotalX(); i++ {
				u := g.Cell(i, j, layer)
				copy(u[:n], h.parentCell(k, i, j, layer))
				if n < g.VecDim {
					m.Complete(u)
				}
			}
		}
	}
}

// prolongate refreshes the ghost cells of level k in columns cols
// (ghost-inclusive) by piecewise constant injection from the parent.
// Components the parent lacks are copied from the nearest interior cell.
func (h *Hierarchy) prolongate(k int, cols core.Range) {
	g := h.levels[k].Grid
	n := h.shared(k)
	for layer := 0; layer < g.Nz; layer++ {
		for j := 0; j < g.TotalY(); j++ {
			rowGhost := j < g.Ng || j >= g.Ny+g.Ng
			for i := cols.Lo; i < cols.Hi; i++ {
				if !rowGhost && i >= g.Ng && i < g.Nx+g.Ng {
					continue
				}
				u := g.Cell(i, j, layer)
				copy(u[:n], h.parentCell(k, i, j, layer))
				if n < g.VecDim {
					ci := min(max(i, g.Ng), g.Nx+g.Ng-1)
					cj := min(max(j, g.Ng), g.Ny+g.Ng-1)
					copy(u[n:], g.Cell(ci, cj, layer)[n:])
				}
			}
		}
	}
}

// restrict averages level k over each parent cell it covers, in the owned
// columns cols, and overwrites the components the parent shares with it.
func (h *Hierarchy) restrict(k int, cols core.Range) {
	if cols.Empty() {
		return
	}
	lvl := h.levels[k]
	g, parent := lvl.Grid, h.levels[k-1].Grid
	r := lvl.R
	layers := g.Nz / parent.Nz
	weight := 1 / float64(r*r*layers)

	sum := make([]float64, h.shared(k))
	for pk := 0; pk < parent.Nz; pk++ {
		for fj := 0; fj < g.Ny; fj += r {
			for fi := cols.Lo - g.Ng; fi < cols.Hi-g.Ng; fi += r {
				clear(sum)
				for layer := pk * layers; layer < (pk+1)*layers; layer++ {
					for dj := 0; dj < r; dj++ {
						for di := 0; di < r; di++ {
							u := g.Cell(fi+di+g.Ng, fj+dj+g.Ng, layer)
							for c := range sum {
								sum[c] += u[c]
							}
						}
					}
				}
				dst := parent.Cell(lvl.I0+fi/r+parent.Ng, lvl.J0+fj/r+parent.Ng, pk)
				for c := range sum {
					dst[c] = sum[c] * weight
				}
			}
		}
	}
}

// snapshot gathers every print level and hands it to the writer on the
// coordinating rank. A failed write aborts the run.
func (h *Hierarchy) snapshot(ctx context.Context, st *distrib.Stepper) error {
	for k, lvl := range h.levels {
		if !lvl.Print {
			continue
		}
		g, err := st.Gather(ctx, k, lvl.Grid)
		if err != nil {
			return fmt.Errorf("gather level %d at step %d: %w", k, h.step, err)
		}
		if g == nil || h.writer == nil {
			continue
		}
		if err := h.writer.Write(k, g, h.step); err != nil {
			err = fmt.Errorf("snapshot of level %d at step %d: %w", k, h.step, err)
			st.Abort(err)
			return err
		}
		ctxlog.FromContext(ctx).Debug("snapshot written", "level", k, "step", h.step)
	}
	return nil
}
