package distrib

import (
	"starsea/core"
)

// Slabs splits n interior columns into size contiguous ranges whose lengths
// differ by at most one, lower ranks taking the longer ones. Ranges are in
// interior coordinates.
func Slabs(n, size int) []core.Range {
	out := make([]core.Range, size)
	base, extra := n/size, n%size
	lo := 0
	for r := range out {
		w := base
		if r < extra {
			w++
		}
		out[r] = core.Range{Lo: lo, Hi: lo + w}
		lo += w
	}
	return out
}

// inherit maps a parent slab onto a fine level: a fine column belongs to
// the rank owning its parent column. All ranges are in interior
// coordinates; i0 is the fine level's offset in the parent and nx its
// interior width.
func inherit(parent core.Range, i0, r, nx int) core.Range {
	if parent.Empty() {
		return core.Range{}
	}
	lo := max((parent.Lo-i0)*r, 0)
	hi := min((parent.Hi-i0)*r, nx)
	if hi <= lo {
		return core.Range{}
	}
	return core.Range{Lo: lo, Hi: hi}
}

// Partition assigns every level's interior columns to ranks. Layout[k][r]
// is rank r's range on level k in interior coordinates.
func Partition(levels []*core.Level, size int) ([][]core.Range, error) {
	if size < 1 {
		return nil, core.Configf("ranks", "need at least one rank, got %d", size)
	}
	layout := make([][]core.Range, len(levels))
	for k, lvl := range levels {
		g := lvl.Grid
		if k == 0 {
			layout[k] = Slabs(g.Nx, size)
		} else {
			layout[k] = make([]core.Range, size)
			for r := range layout[k] {
				layout[k][r] = inherit(layout[k-1][r], lvl.I0, lvl.R, g.Nx)
			}
		}
		if size == 1 {
			continue
		}
		for r, rg := range layout[k] {
			if !rg.Empty() && rg.Len() < g.Ng {
				return nil, core.Configf("ranks",
					"rank %d owns %d columns of level %d, fewer than the ghost width %d", r, rg.Len(), k, g.Ng)
			}
		}
	}
	return layout, nil
}
