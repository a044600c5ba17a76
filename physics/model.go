// Package physics implements the four physical models a level can evolve
// and the per-cell update the compute devices run.
package physics

import (
	"errors"
	"fmt"

	"starsea/core"
)

// Axis selects a flux direction. Z runs across layers.
type Axis int

const (
	X Axis = iota
	Y
	Z
)

// ErrRecovery is returned when primitive variables cannot be recovered from
// a conserved state.
var ErrRecovery = errors.New("conserved to primitive recovery failed")

// Model is the physics of one level. All variants share these signatures.
type Model interface {
	Tag() core.Tag

	// Dim is the state vector length.
	Dim() int

	// Vertical reports whether fluxes cross layers.
	Vertical() bool

	ConsToPrim(u, prim []float64) error
	PrimToCons(prim, u []float64)

	// Flux writes the flux of u along axis into f.
	Flux(axis Axis, u, f []float64)

	// MaxSpeed bounds the characteristic speeds of u along axis.
	MaxSpeed(axis Axis, u []float64) float64

	// Source writes the explicit source of the stencil's centre cell.
	Source(s Stencil, out []float64)

	// Complete fills the components past core.SharedComponents from the
	// shared ones, after prolongation from a model that lacks them.
	Complete(u []float64)

	// React integrates the stiff reaction term over dt in place. It is a
	// no-op unless burning is enabled.
	React(u []float64, dt float64) error
}

// New binds the model for tag to the hierarchy's physical parameters.
func New(tag core.Tag, p *core.PhysicalParams) (Model, error) {
	switch tag {
	case core.SingleLayer:
		return &SWE{p: p}, nil
	case core.MultiLayer:
		return &Multilayer{SWE: SWE{p: p}}, nil
	case core.Compressible:
		return &Compressible{p: p}, nil
	case core.LowMach:
		return &LowMachModel{Compressible: Compressible{p: p}}, nil
	}
	return nil, fmt.Errorf("no model for tag %v", tag)
}

// Stencil is the radius-one neighbourhood of cell (I, J, K), ghost-inclusive
// indices.
type Stencil struct {
	Grid    *core.Grid
	I, J, K int
}

// At returns the cell offset by (di, dj) in layer k. Layers outside the grid
// clamp to the nearest one.
func (s Stencil) At(di, dj, k int) []float64 {
	if k < 0 {
		k = 0
	}
	if k >= s.Grid.Nz {
		k = s.Grid.Nz - 1
	}
	return s.Grid.Cell(s.I+di, s.J+dj, k)
}

// Center returns the cell itself.
func (s Stencil) Center() []float64 {
	return s.Grid.Cell(s.I, s.J, s.K)
}
