package simulation

import (
	"fmt"

	"starsea/core"
)

// DefaultCFL is the Courant number used when Params.CFL is zero.
const DefaultCFL = 0.1

// LevelSpec describes one level of the hierarchy. Fine level extents and
// offsets are derived from Params.Df unless Nx (or Ny) is set, in which case
// I0 (or J0) is taken as given, in parent interior coordinates.
type LevelSpec struct {
	Model  core.Tag
	Nz     int // layers, default 1
	Nx, Ny int
	I0, J0 int

	// VecDim, if set, must agree with the model.
	VecDim int
	Print  bool
}

// Params are the explicit construction parameters of a hierarchy.
type Params struct {
	Nx, Ny int // interior cells of the coarsest level
	Ng     int // ghost width, uniform across levels
	R      int // refinement ratio between consecutive levels
	Df     float64

	Xmin, Xmax float64
	Ymin, Ymax float64
	Zmin, Zmax float64

	// Levels lists the levels coarsest first.
	Levels []LevelSpec

	Physical core.PhysicalParams
	Periodic bool

	Nt        int // steps per Run
	Dprint    int // snapshot interval, 0 disables
	CFL       float64
	StartStep int
}

// plan is the validated geometry of one level.
type plan struct {
	tag        core.Tag
	shape      core.Shape
	xmin, ymin float64
	dx, dy, dz float64
	r          int
	i0, j0     int
	print      bool
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// floorDiv rounds towards minus infinity.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func levelField(k int, name string) string {
	return fmt.Sprintf("levels[%d].%s", k, name)
}

// layout validates p and derives the geometry of every level. It allocates
// no grid.
func (p *Params) layout() ([]plan, *core.PhysicalParams, error) {
	if len(p.Levels) == 0 {
		return nil, nil, core.Configf("levels", "at least one level is required")
	}
	if p.Ng < 1 {
		return nil, nil, core.Configf("ng", "ghost width must be at least 1, got %d", p.Ng)
	}
	if len(p.Levels) > 1 && p.R < 1 {
		return nil, nil, core.Configf("r", "refinement ratio must be at least 1, got %d", p.R)
	}
	if !(p.Xmax > p.Xmin) {
		return nil, nil, core.Configf("xmax", "domain is empty in x: [%g, %g]", p.Xmin, p.Xmax)
	}
	if !(p.Ymax > p.Ymin) {
		return nil, nil, core.Configf("ymax", "domain is empty in y: [%g, %g]", p.Ymin, p.Ymax)
	}
	if p.Zmax < p.Zmin {
		return nil, nil, core.Configf("zmax", "height range is inverted: [%g, %g]", p.Zmin, p.Zmax)
	}
	if p.Nt < 0 {
		return nil, nil, core.Configf("nt", "step count must not be negative, got %d", p.Nt)
	}
	if p.Dprint < 0 {
		return nil, nil, core.Configf("dprint", "print interval must not be negative, got %d", p.Dprint)
	}
	if p.CFL < 0 {
		return nil, nil, core.Configf("cfl", "Courant number must be positive, got %g", p.CFL)
	}
	if p.StartStep < 0 {
		return nil, nil, core.Configf("tstart", "start step must not be negative, got %d", p.StartStep)
	}

	plans := make([]plan, len(p.Levels))
	for k, spec := range p.Levels {
		if !spec.Model.Valid() {
			return nil, nil, core.Configf(levelField(k, "model"), "unknown model %v", spec.Model)
		}
		nz := spec.Nz
		if nz == 0 {
			nz = 1
		}
		if nz < 1 {
			return nil, nil, core.Configf(levelField(k, "nz"), "layer count must be positive, got %d", nz)
		}
		vecDim := spec.Model.VecDim(p.Physical.Burning)
		if spec.VecDim != 0 && spec.VecDim != vecDim {
			return nil, nil, core.Configf(levelField(k, "vec_dim"),
				"model %v carries %d components, got %d", spec.Model, vecDim, spec.VecDim)
		}
		if spec.Model == core.MultiLayer && len(p.Physical.Rho) < nz {
			return nil, nil, core.Configf("rho", "level %d has %d layers but only %d densities", k, nz, len(p.Physical.Rho))
		}

		pl := plan{tag: spec.Model, print: spec.Print, r: 1}
		if k == 0 {
			pl.shape = core.Shape{Nx: p.Nx, Ny: p.Ny, Nz: nz, Ng: p.Ng, VecDim: vecDim}
			pl.xmin, pl.ymin = p.Xmin, p.Ymin
			if p.Nx > 0 && p.Ny > 0 {
				pl.dx = (p.Xmax - p.Xmin) / float64(p.Nx)
				pl.dy = (p.Ymax - p.Ymin) / float64(p.Ny)
			}
		} else {
			parent := plans[k-1]
			nx, i0, err := p.refine(k, "nx", spec.Nx, spec.I0, parent.shape.Nx)
			if err != nil {
				return nil, nil, err
			}
			ny, j0, err := p.refine(k, "ny", spec.Ny, spec.J0, parent.shape.Ny)
			if err != nil {
				return nil, nil, err
			}
			if nz%parent.shape.Nz != 0 {
				return nil, nil, core.Configf(levelField(k, "nz"),
					"%d layers is not a multiple of the parent's %d", nz, parent.shape.Nz)
			}
			pl.shape = core.Shape{Nx: nx, Ny: ny, Nz: nz, Ng: p.Ng, VecDim: vecDim}
			pl.r, pl.i0, pl.j0 = p.R, i0, j0
			pl.dx = parent.dx / float64(p.R)
			pl.dy = parent.dy / float64(p.R)
			pl.xmin = parent.xmin + float64(i0)*parent.dx
			pl.ymin = parent.ymin + float64(j0)*parent.dy
		}

		s := pl.shape
		if s.Nx < 2*s.Ng {
			return nil, nil, core.Configf(levelField(k, "nx"),
				"%d interior cells is fewer than twice the ghost width %d", s.Nx, s.Ng)
		}
		if s.Ny < 2*s.Ng {
			return nil, nil, core.Configf(levelField(k, "ny"),
				"%d interior cells is fewer than twice the ghost width %d", s.Ny, s.Ng)
		}
		pl.dz = 1
		if p.Zmax > p.Zmin {
			pl.dz = (p.Zmax - p.Zmin) / float64(nz)
		}
		plans[k] = pl
	}

	phys := p.Physical
	phys.Rho = append([]float64(nil), p.Physical.Rho...)
	if err := phys.Finalize(); err != nil {
		return nil, nil, err
	}
	return plans, &phys, nil
}

// refine returns the extent and offset of a fine level along one axis and
// checks that its footprint and the parent cells feeding its ghost band lie
// in the parent interior.
func (p *Params) refine(k int, axis string, n, off, parentN int) (int, int, error) {
	if n == 0 {
		if !(p.Df > 0 && p.Df <= 1) {
			return 0, 0, core.Configf("df", "refinement fraction must be in (0, 1], got %g", p.Df)
		}
		n = int(p.Df*float64(parentN)) * p.R
		off = int((1 - p.Df) * float64(parentN) / 2)
	}
	field := levelField(k, axis)
	if n%p.R != 0 {
		return 0, 0, core.Configf(field, "%d is not divisible by the refinement ratio %d", n, p.R)
	}
	margin := ceilDiv(p.Ng, p.R)
	if off-margin < 0 || off+n/p.R+margin > parentN {
		return 0, 0, core.Configf(field,
			"footprint [%d, %d) plus a margin of %d leaves the parent's %d interior cells",
			off, off+n/p.R, margin, parentN)
	}
	return n, off, nil
}

func (p *Params) cfl() float64 {
	if p.CFL == 0 {
		return DefaultCFL
	}
	return p.CFL
}

// Validate checks p the way New does without allocating anything.
func Validate(p Params) error {
	_, _, err := p.layout()
	return err
}
