// Package boundary fills the ghost cells of a grid.
package boundary

import "starsea/core"

// Enforce fills every ghost cell of g in place. Periodic boundaries wrap
// around independently in x and y; otherwise ghosts replicate the nearest
// interior cell (zero gradient outflow). Applying it twice is a no-op.
func Enforce(g *core.Grid, periodic bool) {
	EnforceData(g.Data, g.Nx, g.Ny, g.Nz, g.Ng, g.VecDim, periodic)
}

// EnforceData works on a raw ghost-inclusive buffer with nx, ny interior
// cells, nz layers and ng ghost cells.
func EnforceData(data []float64, nx, ny, nz, ng, vecDim int, periodic bool) {
	if ng == 0 {
		return
	}
	s := core.Shape{Nx: nx, Ny: ny, Nz: nz, Ng: ng, VecDim: vecDim}
	row := s.TotalX() * vecDim

	// x edges first on interior rows, then y edges on full rows so the
	// corners pick up the already filled x ghosts.
	for k := 0; k < nz; k++ {
		for j := ng; j < ny+ng; j++ {
			for g := 0; g < ng; g++ {
				var left, right int
				if periodic {
					left, right = nx+g, ng+g
				} else {
					left, right = ng, nx+ng-1
				}
				copyRange(data, s.Index(g, j, k), s.Index(left, j, k), vecDim)
				copyRange(data, s.Index(nx+ng+g, j, k), s.Index(right, j, k), vecDim)
			}
		}
		for g := 0; g < ng; g++ {
			var bottom, top int
			if periodic {
				bottom, top = ny+g, ng+g
			} else {
				bottom, top = ng, ny+ng-1
			}
			copyRange(data, s.Index(0, g, k), s.Index(0, bottom, k), row)
			copyRange(data, s.Index(0, ny+ng+g, k), s.Index(0, top, k), row)
		}
	}
}

func copyRange(data []float64, dst, src, n int) {
	copy(data[dst:dst+n], data[src:src+n])
}
