package core

// Grid holds the state vectors of one level: a (x, y, layer) array with Ng
// ghost cells on every horizontal edge.
type Grid struct {
	Shape
	Dx, Dy, Dz float64

	// Ghost-inclusive coordinates of the cell origins
	Xs []float64
	Ys []float64

	Data []float64
}

// NewGrid allocates a zeroed grid. xmin and ymin locate the first interior
// cell.
func NewGrid(shape Shape, xmin, ymin, dx, dy, dz float64) *Grid {
	g := &Grid{
		Shape: shape,
		Dx:    dx,
		Dy:    dy,
		Dz:    dz,
		Xs:    make([]float64, shape.TotalX()),
		Ys:    make([]float64, shape.TotalY()),
		Data:  make([]float64, shape.Len()),
	}
	for i := range g.Xs {
		g.Xs[i] = xmin + float64(i-shape.Ng)*dx
	}
	for j := range g.Ys {
		g.Ys[j] = ymin + float64(j-shape.Ng)*dy
	}
	return g
}

// Cell returns the state vector of cell (i, j, k) as a view into Data.
func (g *Grid) Cell(i, j, k int) []float64 {
	n := g.Index(i, j, k)
	return g.Data[n : n+g.VecDim : n+g.VecDim]
}

// Clone returns a fully independent copy.
func (g *Grid) Clone() *Grid {
	dst := &Grid{
		Shape: g.Shape,
		Dx:    g.Dx,
		Dy:    g.Dy,
		Dz:    g.Dz,
		Xs:    make([]float64, len(g.Xs)),
		Ys:    make([]float64, len(g.Ys)),
		Data:  make([]float64, len(g.Data)),
	}
	copy(dst.Xs, g.Xs)
	copy(dst.Ys, g.Ys)
	copy(dst.Data, g.Data)
	return dst
}

// Sum adds component c over the interior cells.
func (g *Grid) Sum(c int) float64 {
	total := 0.0
	for k := 0; k < g.Nz; k++ {
		for j := g.Ng; j < g.Ny+g.Ng; j++ {
			for i := g.Ng; i < g.Nx+g.Ng; i++ {
				total += g.Data[g.Index(i, j, k)+c]
			}
		}
	}
	return total
}

// Level is one entry of the mesh hierarchy. Levels refer to their parent
// only by index; I0 and J0 place the level's first interior cell in the
// parent's interior coordinates.
type Level struct {
	Index  int
	Model  Tag
	Grid   *Grid
	R      int
	I0, J0 int
	Print  bool
}

// Clone deep copies the level's grid.
func (l *Level) Clone() *Level {
	dst := *l
	dst.Grid = l.Grid.Clone()
	return &dst
}
