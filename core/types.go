package core

import (
	"fmt"
	"strings"
)

// Tag identifies the physical model evolved on a level
type Tag byte

const (
	SingleLayer  Tag = 'S' // single-layer shallow water
	MultiLayer   Tag = 'M' // multilayer shallow water
	Compressible Tag = 'C' // relativistic compressible Euler
	LowMach      Tag = 'L' // low Mach number compressible
)

// SharedComponents is the number of leading state components every model
// agrees on: density and the two horizontal momenta.
const SharedComponents = 3

// ParseTag accepts the single letter codes and the long names.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "swe", "single":
		return SingleLayer, nil
	case "m", "multilayer", "multi":
		return MultiLayer, nil
	case "c", "compressible":
		return Compressible, nil
	case "l", "lowmach", "low-mach":
		return LowMach, nil
	}
	return 0, fmt.Errorf("unknown model %q", s)
}

func (t Tag) Valid() bool {
	switch t {
	case SingleLayer, MultiLayer, Compressible, LowMach:
		return true
	}
	return false
}

// VecDim returns the state vector length of the model. Compressible models
// carry the conserved fuel density as a sixth component when burning.
func (t Tag) VecDim(burning bool) int {
	switch t {
	case SingleLayer, MultiLayer:
		return 3
	case Compressible, LowMach:
		if burning {
			return 6
		}
		return 5
	}
	return 0
}

func (t Tag) String() string {
	switch t {
	case SingleLayer:
		return "swe"
	case MultiLayer:
		return "multilayer"
	case Compressible:
		return "compressible"
	case LowMach:
		return "lowmach"
	}
	return fmt.Sprintf("Tag(%d)", byte(t))
}

// Shape describes the layout of a grid array. Nx and Ny count interior
// cells; Ng ghost cells pad every horizontal edge. Layers carry no ghosts.
type Shape struct {
	Nx, Ny, Nz int
	Ng         int
	VecDim     int
}

// TotalX is the ghost-inclusive extent in x
func (s Shape) TotalX() int { return s.Nx + 2*s.Ng }

// TotalY is the ghost-inclusive extent in y
func (s Shape) TotalY() int { return s.Ny + 2*s.Ng }

// Cells counts every cell of the array, ghosts included.
func (s Shape) Cells() int { return s.TotalX() * s.TotalY() * s.Nz }

// Len is the number of float64 values backing the array.
func (s Shape) Len() int { return s.Cells() * s.VecDim }

// Interior counts the non-ghost cells.
func (s Shape) Interior() int { return s.Nx * s.Ny * s.Nz }

// Index returns the offset of the first component of cell (i, j, k), where
// i and j are ghost-inclusive indices.
func (s Shape) Index(i, j, k int) int {
	return ((k*s.TotalY()+j)*s.TotalX() + i) * s.VecDim
}

// Range is a half-open span [Lo, Hi) of interior column indices.
type Range struct {
	Lo, Hi int
}

func (r Range) Len() int {
	if r.Hi <= r.Lo {
		return 0
	}
	return r.Hi - r.Lo
}

func (r Range) Empty() bool { return r.Len() == 0 }

func (r Range) Contains(i int) bool { return i >= r.Lo && i < r.Hi }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi) }
