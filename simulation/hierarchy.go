// Package simulation owns the mesh hierarchy: nested levels, each evolved by
// its own physical model, advanced together with sub-cycling, prolongation
// and restriction.
package simulation

import (
	"fmt"
	"log/slog"

	"starsea/boundary"
	"starsea/core"
	"starsea/distrib"
	"starsea/gpu"
	"starsea/physics"
)

// SnapshotWriter stores one level of the hierarchy. It is only called on the
// coordinating rank, with the assembled level.
type SnapshotWriter interface {
	Write(level int, g *core.Grid, step int) error
}

// Hierarchy is the set of nested levels, coarsest first.
type Hierarchy struct {
	params Params
	phys   *core.PhysicalParams

	levels    []*core.Level
	models    []physics.Model
	registers []*fluxRegister

	step int
	dt   float64

	dispatch *gpu.Dispatcher
	writer   SnapshotWriter
}

// Option configures a Hierarchy.
type Option func(*options)

type options struct {
	device gpu.Device
	writer SnapshotWriter
}

// WithDevice runs the kernels on dev instead of the host CPU.
func WithDevice(dev gpu.Device) Option {
	return func(o *options) { o.device = dev }
}

// WithSnapshotWriter sets where printed levels go every Dprint steps.
func WithSnapshotWriter(w SnapshotWriter) Option {
	return func(o *options) { o.writer = w }
}

// New validates p and allocates the hierarchy. Every parameter error is a
// *core.ConfigError returned before any grid is allocated.
func New(p Params, opts ...Option) (*Hierarchy, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	plans, phys, err := p.layout()
	if err != nil {
		return nil, err
	}
	models := make([]physics.Model, len(plans))
	for k, pl := range plans {
		m, err := physics.New(pl.tag, phys)
		if err != nil {
			return nil, core.Configf(levelField(k, "model"), "%v", err)
		}
		models[k] = m
	}

	p.Levels = append([]LevelSpec(nil), p.Levels...)
	p.Physical = *phys
	h := &Hierarchy{
		params: p,
		phys:   phys,
		models: models,
		levels: make([]*core.Level, len(plans)),
		step:   p.StartStep,
		writer: o.writer,
	}
	for k, pl := range plans {
		h.levels[k] = &core.Level{
			Index: k,
			Model: pl.tag,
			Grid:  core.NewGrid(pl.shape, pl.xmin, pl.ymin, pl.dx, pl.dy, pl.dz),
			R:     pl.r,
			I0:    pl.i0,
			J0:    pl.j0,
			Print: pl.print,
		}
	}
	h.registers = h.newRegisters()
	h.dt = p.cfl() * min(plans[0].dx, plans[0].dy)

	dev := o.device
	if dev == nil {
		dev = gpu.NewCPUDevice(0)
	}
	h.dispatch = gpu.NewDispatcher(dev, phys)
	return h, nil
}

// NewStepper decomposes the hierarchy across the ranks of comm.
func (h *Hierarchy) NewStepper(comm distrib.Comm) (*distrib.Stepper, error) {
	return distrib.NewStepper(comm, h.levels, h.params.Periodic)
}

// InitialData seeds the coarsest level from one array per state component,
// each holding Nx*Ny*Nz values ordered (k*Ny+j)*Nx+i. Finer levels are
// filled from their parents. Nothing is written unless every array has the
// right size.
func (h *Hierarchy) InitialData(arrays ...[]float64) error {
	g := h.levels[0].Grid
	if len(arrays) != g.VecDim {
		return &core.DimensionMismatch{Component: -1, Want: g.VecDim, Got: len(arrays)}
	}
	for c, a := range arrays {
		if len(a) != g.Interior() {
			return &core.DimensionMismatch{Component: c, Want: g.Interior(), Got: len(a)}
		}
	}

	for k := 0; k < g.Nz; k++ {
		for j := 0; j < g.Ny; j++ {
			for i := 0; i < g.Nx; i++ {
				u := g.Cell(i+g.Ng, j+g.Ng, k)
				n := (k*g.Ny+j)*g.Nx + i
				for c, a := range arrays {
					u[c] = a[n]
				}
			}
		}
	}
	boundary.Enforce(g, h.params.Periodic)

	for k := 1; k < len(h.levels); k++ {
		h.inject(k)
	}
	return nil
}

// Clone returns an independent copy of the hierarchy. It shares the device
// and the snapshot writer.
func (h *Hierarchy) Clone() *Hierarchy {
	dst := *h
	phys := *h.phys
	phys.Rho = append([]float64(nil), h.phys.Rho...)
	dst.phys = &phys
	dst.params.Physical = phys
	dst.params.Levels = append([]LevelSpec(nil), h.params.Levels...)

	dst.levels = make([]*core.Level, len(h.levels))
	dst.models = make([]physics.Model, len(h.models))
	for k, lvl := range h.levels {
		dst.levels[k] = lvl.Clone()
		// the tag was accepted by New
		dst.models[k], _ = physics.New(lvl.Model, dst.phys)
	}
	dst.registers = dst.newRegisters()
	return &dst
}

// Close releases the device. Clones share it, so close only one of them.
func (h *Hierarchy) Close() {
	h.dispatch.Close()
}

func (h *Hierarchy) Levels() []*core.Level { return h.levels }

func (h *Hierarchy) Level(k int) *core.Level { return h.levels[k] }

func (h *Hierarchy) Model(k int) physics.Model { return h.models[k] }

func (h *Hierarchy) Params() Params { return h.params }

func (h *Hierarchy) Physical() *core.PhysicalParams { return h.phys }

// StepCount is the number of coarse steps taken, counting from StartStep.
func (h *Hierarchy) StepCount() int { return h.step }

// Dt is the coarse time step; level k advances by Dt/R^k.
func (h *Hierarchy) Dt() float64 { return h.dt }

// TotalDensity sums the density over the interior of level k.
func (h *Hierarchy) TotalDensity(k int) float64 {
	return h.levels[k].Grid.Sum(0)
}

func (h *Hierarchy) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("levels", len(h.levels)),
		slog.Float64("dt", h.dt),
		slog.Int("nt", h.params.Nt),
		slog.Int("dprint", h.params.Dprint),
		slog.Bool("periodic", h.params.Periodic),
		slog.Any("physical", h.phys),
	}
	for _, lvl := range h.levels {
		g := lvl.Grid
		attrs = append(attrs, slog.Group(fmt.Sprintf("level%d", lvl.Index),
			slog.String("model", lvl.Model.String()),
			slog.Int("nx", g.Nx),
			slog.Int("ny", g.Ny),
			slog.Int("nz", g.Nz),
			slog.Float64("dx", g.Dx),
			slog.Int("i0", lvl.I0),
			slog.Int("j0", lvl.J0),
		))
	}
	return slog.GroupValue(attrs...)
}
