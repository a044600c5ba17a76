package distrib

import (
	"context"
	"errors"
	"fmt"

	"starsea/core"
)

// Stepper is one rank's view of the decomposition. Every rank holds full
// arrays for all levels but only updates the columns it owns; ExchangeHalos
// refreshes the Ng columns on each side of a seam before they are read.
type Stepper struct {
	comm     Comm
	periodic bool

	layout [][]core.Range // interior coordinates, per level and rank
	shapes []core.Shape
	active [][]int // ranks owning part of each level, in order

	send, recv []float64
}

// NewStepper partitions the levels across the ranks of comm.
func NewStepper(comm Comm, levels []*core.Level, periodic bool) (*Stepper, error) {
	if len(levels) == 0 {
		return nil, core.Configf("levels", "hierarchy has no levels")
	}
	layout, err := Partition(levels, comm.Size())
	if err != nil {
		return nil, err
	}
	s := &Stepper{
		comm:     comm,
		periodic: periodic,
		layout:   layout,
		shapes:   make([]core.Shape, len(levels)),
		active:   make([][]int, len(levels)),
	}
	for k, lvl := range levels {
		s.shapes[k] = lvl.Grid.Shape
		for r, rg := range layout[k] {
			if !rg.Empty() {
				s.active[k] = append(s.active[k], r)
			}
		}
	}
	return s, nil
}

func (s *Stepper) Rank() int  { return s.comm.Rank() }
func (s *Stepper) Size() int  { return s.comm.Size() }
func (s *Stepper) Comm() Comm { return s.comm }

// Coordinator reports whether this rank collects snapshots.
func (s *Stepper) Coordinator() bool { return s.comm.Rank() == 0 }

// Owned returns this rank's columns of level as ghost-inclusive indices.
func (s *Stepper) Owned(level int) core.Range {
	return s.owned(level, s.comm.Rank())
}

func (s *Stepper) owned(level, rank int) core.Range {
	rg := s.layout[level][rank]
	if rg.Empty() {
		return core.Range{}
	}
	ng := s.shapes[level].Ng
	return core.Range{Lo: rg.Lo + ng, Hi: rg.Hi + ng}
}

// Extent widens Owned by the x ghost columns at the domain edges this rank
// borders. It is what the rank contributes to a gather.
func (s *Stepper) Extent(level int) core.Range {
	return s.extent(level, s.comm.Rank())
}

func (s *Stepper) extent(level, rank int) core.Range {
	rg := s.owned(level, rank)
	if rg.Empty() {
		return rg
	}
	sh := s.shapes[level]
	if rg.Lo == sh.Ng {
		rg.Lo = 0
	}
	if rg.Hi == sh.Nx+sh.Ng {
		rg.Hi = sh.TotalX()
	}
	return rg
}

// neighbours returns the ranks owning the slabs left and right of this
// rank's, or -1. Level 0 with periodic boundaries is a ring.
func (s *Stepper) neighbours(level int) (left, right int) {
	left, right = -1, -1
	active := s.active[level]
	pos := -1
	for n, r := range active {
		if r == s.comm.Rank() {
			pos = n
		}
	}
	if pos < 0 || len(active) < 2 {
		return
	}
	if pos > 0 {
		left = active[pos-1]
	}
	if pos < len(active)-1 {
		right = active[pos+1]
	}
	if level == 0 && s.periodic {
		if left < 0 {
			left = active[len(active)-1]
		}
		if right < 0 {
			right = active[0]
		}
	}
	return
}

func (s *Stepper) scratch(n int) (send, recv []float64) {
	if cap(s.send) < n {
		s.send = make([]float64, n)
		s.recv = make([]float64, n)
	}
	return s.send[:n], s.recv[:n]
}

// columns copies Ng-wide column blocks between a grid and a flat buffer,
// over rows [j0, j1) of every layer.
func columns(g *core.Grid, lo, hi, j0, j1 int, buf []float64, pack bool) int {
	n := 0
	w := (hi - lo) * g.VecDim
	for k := 0; k < g.Nz; k++ {
		for j := j0; j < j1; j++ {
			off := g.Index(lo, j, k)
			if pack {
				copy(buf[n:n+w], g.Data[off:off+w])
			} else {
				copy(g.Data[off:off+w], buf[n:n+w])
			}
			n += w
		}
	}
	return n
}

// ExchangeHalos refreshes the columns next to this rank's slab of level from
// its neighbours. It runs in two phases, first passing data rightwards, then
// leftwards. A failure aborts every rank.
func (s *Stepper) ExchangeHalos(ctx context.Context, level int, g *core.Grid) error {
	own := s.Owned(level)
	left, right := s.neighbours(level)
	if own.Empty() || (left < 0 && right < 0) {
		return nil
	}
	ng := g.Ng
	rows0, rows1 := ng, g.Ny+ng
	n := ng * g.Ny * g.Nz * g.VecDim
	send, recv := s.scratch(n)

	// rightwards: my right edge becomes the left halo of the right neighbour
	columns(g, own.Hi-ng, own.Hi, rows0, rows1, send, true)
	if err := s.comm.SendRecv(ctx, right, send, left, recv); err != nil {
		return s.fail("halo exchange", left, right, err)
	}
	if left >= 0 {
		lo := s.owned(level, left).Hi - ng
		columns(g, lo, lo+ng, rows0, rows1, recv, false)
	}

	// leftwards
	columns(g, own.Lo, own.Lo+ng, rows0, rows1, send, true)
	if err := s.comm.SendRecv(ctx, left, send, right, recv); err != nil {
		return s.fail("halo exchange", right, left, err)
	}
	if right >= 0 {
		lo := s.owned(level, right).Lo
		columns(g, lo, lo+ng, rows0, rows1, recv, false)
	}
	return nil
}

func (s *Stepper) fail(op string, src, dst int, err error) error {
	peer := src
	if peer < 0 {
		peer = dst
	}
	cf := &core.CommunicationFailure{Rank: s.comm.Rank(), Peer: peer, Op: op, Err: err}
	if !errors.Is(err, ErrAborted) {
		s.comm.Abort(cf)
	}
	return cf
}

// Owner returns the rank owning ghost-inclusive column col of level, or -1
// for a ghost column.
func (s *Stepper) Owner(level, col int) int {
	for r := range s.layout[level] {
		if s.owned(level, r).Contains(col) {
			return r
		}
	}
	return -1
}

// Transfer copies buf from rank from into buf on rank to. Every other rank,
// and a transfer within one rank, does nothing. A failure aborts every rank.
func (s *Stepper) Transfer(ctx context.Context, from, to int, buf []float64) error {
	if from < 0 || to < 0 || from == to {
		return nil
	}
	switch s.comm.Rank() {
	case from:
		if err := s.comm.SendRecv(ctx, to, buf, -1, nil); err != nil {
			return s.fail("transfer", -1, to, err)
		}
	case to:
		if err := s.comm.SendRecv(ctx, -1, nil, from, buf); err != nil {
			return s.fail("transfer", from, -1, err)
		}
	}
	return nil
}

// Gather assembles level at the coordinating rank: a copy of g whose
// columns come from the ranks owning them. Other ranks get nil.
func (s *Stepper) Gather(ctx context.Context, level int, g *core.Grid) (*core.Grid, error) {
	ext := s.Extent(level)
	buf := make([]float64, ext.Len()*g.TotalY()*g.Nz*g.VecDim)
	if !ext.Empty() {
		columns(g, ext.Lo, ext.Hi, 0, g.TotalY(), buf, true)
	}
	parts, err := s.comm.Gather(ctx, 0, buf)
	if err != nil {
		cf := &core.CommunicationFailure{Rank: s.comm.Rank(), Peer: 0, Op: "gather", Err: err}
		if !errors.Is(err, ErrAborted) {
			s.comm.Abort(cf)
		}
		return nil, cf
	}
	if !s.Coordinator() {
		return nil, nil
	}

	out := g.Clone()
	for r, part := range parts {
		ext := s.extent(level, r)
		want := ext.Len() * g.TotalY() * g.Nz * g.VecDim
		if len(part) != want {
			err := fmt.Errorf("rank %d sent %d values for level %d, expected %d", r, len(part), level, want)
			s.comm.Abort(err)
			return nil, &core.CommunicationFailure{Rank: s.comm.Rank(), Peer: r, Op: "gather", Err: err}
		}
		if !ext.Empty() {
			columns(out, ext.Lo, ext.Hi, 0, g.TotalY(), part, false)
		}
	}
	return out, nil
}

// Abort stops every rank of the run.
func (s *Stepper) Abort(err error) {
	s.comm.Abort(err)
}
