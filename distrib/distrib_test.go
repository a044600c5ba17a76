package distrib

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
	"starsea/core"
)

// TestProperty_SlabsCoverBalanced checks the slabs tile [0, n) with lengths
// differing by at most one.
func TestProperty_SlabsCoverBalanced(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		size := rapid.IntRange(1, 16).Draw(t, "size")
		slabs := Slabs(n, size)

		lo, shortest, longest := 0, n, 0
		for r, s := range slabs {
			if s.Lo != lo {
				t.Fatalf("slab %d starts at %d, want %d", r, s.Lo, lo)
			}
			lo = s.Hi
			shortest = min(shortest, s.Len())
			longest = max(longest, s.Len())
		}
		if lo != n {
			t.Fatalf("slabs end at %d, want %d", lo, n)
		}
		if longest-shortest > 1 {
			t.Fatalf("slab lengths range from %d to %d", shortest, longest)
		}
	})
}

func testLevels() []*core.Level {
	coarse := core.NewGrid(core.Shape{Nx: 12, Ny: 3, Nz: 2, Ng: 2, VecDim: 2}, 0, 0, 1, 1, 1)
	// fine level over parent columns [3, 9)
	fine := core.NewGrid(core.Shape{Nx: 12, Ny: 4, Nz: 2, Ng: 2, VecDim: 2}, 3, 0, 0.5, 0.5, 1)
	return []*core.Level{
		{Index: 0, Model: core.SingleLayer, Grid: coarse, R: 1},
		{Index: 1, Model: core.SingleLayer, Grid: fine, R: 2, I0: 3, J0: 0},
	}
}

func TestPartitionInheritsParentOwnership(t *testing.T) {
	layout, err := Partition(testLevels(), 3)
	require.NoError(t, err)

	assert.Equal(t, []core.Range{{Lo: 0, Hi: 4}, {Lo: 4, Hi: 8}, {Lo: 8, Hi: 12}}, layout[0])
	// parent columns 3 | 4..7 | 8 map to fine columns 0..1 | 2..9 | 10..11
	assert.Equal(t, []core.Range{{Lo: 0, Hi: 2}, {Lo: 2, Hi: 10}, {Lo: 10, Hi: 12}}, layout[1])
}

func TestPartitionRejectsNarrowSlabs(t *testing.T) {
	// 12 columns over 7 ranks leaves single column slabs
	_, err := Partition(testLevels(), 7)
	var ce *core.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ranks", ce.Field)

	_, err = Partition(testLevels(), 1)
	assert.NoError(t, err, "a single rank owns everything")
}

// pattern is the value every rank agrees on for component c of cell (i, j, k).
func pattern(i, j, k, c int) float64 {
	return float64(i*1000+j*10+k) + 0.1*float64(c)
}

// fillOwned writes the pattern into the cells a rank updates and NaN
// everywhere else.
func fillOwned(g *core.Grid, cols core.Range, rows0, rows1 int) {
	for n := range g.Data {
		g.Data[n] = math.NaN()
	}
	for k := 0; k < g.Nz; k++ {
		for j := rows0; j < rows1; j++ {
			for i := cols.Lo; i < cols.Hi; i++ {
				for c, u := 0, g.Cell(i, j, k); c < g.VecDim; c++ {
					u[c] = pattern(i, j, k, c)
				}
			}
		}
	}
}

// checkPattern reports the first cell of the block that differs from the
// pattern. It is safe to call from rank goroutines.
func checkPattern(t *testing.T, g *core.Grid, cols core.Range, rows0, rows1 int, msg string) bool {
	t.Helper()
	for k := 0; k < g.Nz; k++ {
		for j := rows0; j < rows1; j++ {
			for i := cols.Lo; i < cols.Hi; i++ {
				for c, u := 0, g.Cell(i, j, k); c < g.VecDim; c++ {
					if !assert.Equal(t, pattern(i, j, k, c), u[c], "%s: cell (%d,%d,%d) component %d", msg, i, j, k, c) {
						return false
					}
				}
			}
		}
	}
	return true
}

func TestExchangeHalosFillsSeams(t *testing.T) {
	for _, periodic := range []bool{false, true} {
		for _, size := range []int{1, 2, 3} {
			err := RunLocal(context.Background(), size, func(ctx context.Context, comm Comm) error {
				levels := testLevels()
				st, err := NewStepper(comm, levels, periodic)
				if err != nil {
					return err
				}
				for k, lvl := range levels {
					g := lvl.Grid
					fillOwned(g, st.Owned(k), g.Ng, g.Ny+g.Ng)
					if err := st.ExchangeHalos(ctx, k, g); err != nil {
						return err
					}
					left, right := st.neighbours(k)
					if left >= 0 {
						hi := st.owned(k, left).Hi
						checkPattern(t, g, core.Range{Lo: hi - g.Ng, Hi: hi}, g.Ng, g.Ny+g.Ng, "left halo")
					}
					if right >= 0 {
						lo := st.owned(k, right).Lo
						checkPattern(t, g, core.Range{Lo: lo, Hi: lo + g.Ng}, g.Ng, g.Ny+g.Ng, "right halo")
					}
				}
				return nil
			})
			require.NoError(t, err, "size %d periodic %v", size, periodic)
		}
	}
}

func TestPeriodicRingClosesOnCoarseLevelOnly(t *testing.T) {
	comms := NewLocalCluster(3)
	st, err := NewStepper(comms[0], testLevels(), true)
	require.NoError(t, err)

	left, right := st.neighbours(0)
	assert.Equal(t, 2, left)
	assert.Equal(t, 1, right)

	left, right = st.neighbours(1)
	assert.Equal(t, -1, left)
	assert.Equal(t, 1, right)
}

func TestGatherAssemblesLevel(t *testing.T) {
	for _, size := range []int{1, 2, 3} {
		err := RunLocal(context.Background(), size, func(ctx context.Context, comm Comm) error {
			levels := testLevels()
			st, err := NewStepper(comm, levels, false)
			if err != nil {
				return err
			}
			for k, lvl := range levels {
				g := lvl.Grid
				fillOwned(g, st.Extent(k), 0, g.TotalY())
				out, err := st.Gather(ctx, k, g)
				if err != nil {
					return err
				}
				if !st.Coordinator() {
					assert.Nil(t, out)
					continue
				}
				checkPattern(t, out, core.Range{Lo: 0, Hi: g.TotalX()}, 0, g.TotalY(), "gathered")
			}
			return nil
		})
		require.NoError(t, err, "size %d", size)
	}
}

func TestOwnerFollowsLayout(t *testing.T) {
	comms := NewLocalCluster(3)
	st, err := NewStepper(comms[0], testLevels(), false)
	require.NoError(t, err)

	// ghost-inclusive: coarse slabs start at column 2, fine slabs too
	assert.Equal(t, -1, st.Owner(0, 1))
	assert.Equal(t, 0, st.Owner(0, 5))
	assert.Equal(t, 1, st.Owner(0, 6))
	assert.Equal(t, 2, st.Owner(0, 13))
	assert.Equal(t, -1, st.Owner(0, 14))
	assert.Equal(t, 0, st.Owner(1, 3))
	assert.Equal(t, 1, st.Owner(1, 4))
	assert.Equal(t, 2, st.Owner(1, 13))
}

func TestTransferMovesBufferBetweenTwoRanks(t *testing.T) {
	got := make([][]float64, 3)
	err := RunLocal(context.Background(), 3, func(ctx context.Context, comm Comm) error {
		st, err := NewStepper(comm, testLevels(), false)
		if err != nil {
			return err
		}
		buf := []float64{float64(comm.Rank()), -1}
		if err := st.Transfer(ctx, 2, 0, buf); err != nil {
			return err
		}
		// within one rank nothing moves
		if err := st.Transfer(ctx, 1, 1, buf); err != nil {
			return err
		}
		got[comm.Rank()] = buf
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, -1}, got[0])
	assert.Equal(t, []float64{1, -1}, got[1])
	assert.Equal(t, []float64{2, -1}, got[2])
}

func TestFailingRankAbortsOthers(t *testing.T) {
	errBoom := errors.New("boom")
	errs := make([]error, 3)

	err := RunLocal(context.Background(), 3, func(ctx context.Context, comm Comm) error {
		levels := testLevels()
		st, err := NewStepper(comm, levels, false)
		if err != nil {
			return err
		}
		if comm.Rank() == 1 {
			errs[1] = errBoom
			return errBoom
		}
		errs[comm.Rank()] = st.ExchangeHalos(ctx, 0, levels[0].Grid)
		return errs[comm.Rank()]
	})
	require.Error(t, err)

	for _, r := range []int{0, 2} {
		assert.ErrorIs(t, errs[r], ErrAborted, "rank %d", r)
		assert.ErrorIs(t, errs[r], errBoom, "rank %d sees the cause", r)
		var cf *core.CommunicationFailure
		assert.ErrorAs(t, errs[r], &cf, "rank %d", r)
	}
}

func TestAbortedCommRefusesFurtherWork(t *testing.T) {
	comms := NewLocalCluster(2)
	comms[0].Abort(errors.New("stop"))

	err := comms[1].SendRecv(context.Background(), 0, []float64{1}, -1, nil)
	assert.ErrorIs(t, err, ErrAborted)
	_, err = comms[1].Gather(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrAborted)
}

func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for r := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[r] = ln.Addr().String()
		require.NoError(t, ln.Close())
	}
	return addrs
}

// dialAll brings up a websocket cluster on loopback.
func dialAll(t *testing.T, ctx context.Context, size int) []*WSComm {
	t.Helper()
	addrs := freeAddrs(t, size)
	comms := make([]*WSComm, size)
	errs := make(chan error, size)
	for r := range comms {
		go func() {
			c, err := DialCluster(ctx, r, addrs)
			comms[r] = c
			errs <- err
		}()
	}
	for range comms {
		require.NoError(t, <-errs)
	}
	t.Cleanup(func() {
		for _, c := range comms {
			c.Close()
		}
	})
	return comms
}

func TestWebsocketClusterExchangesAndGathers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	comms := dialAll(t, ctx, 3)

	errs := make(chan error, len(comms))
	for _, c := range comms {
		go func() {
			levels := testLevels()
			st, err := NewStepper(c, levels, true)
			if err != nil {
				errs <- err
				return
			}
			g := levels[0].Grid
			fillOwned(g, st.Owned(0), g.Ng, g.Ny+g.Ng)
			if err := st.ExchangeHalos(ctx, 0, g); err != nil {
				errs <- err
				return
			}
			left, _ := st.neighbours(0)
			hi := st.owned(0, left).Hi
			checkPattern(t, g, core.Range{Lo: hi - g.Ng, Hi: hi}, g.Ng, g.Ny+g.Ng, "left halo")

			fillOwned(g, st.Extent(0), 0, g.TotalY())
			out, err := st.Gather(ctx, 0, g)
			if err == nil && st.Coordinator() {
				checkPattern(t, out, core.Range{Lo: 0, Hi: g.TotalX()}, 0, g.TotalY(), "gathered")
			}
			errs <- err
		}()
	}
	for range comms {
		require.NoError(t, <-errs)
	}
}

func TestWebsocketAbortReachesPeers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	comms := dialAll(t, ctx, 2)

	errStop := errors.New("stop")
	comms[0].Abort(errStop)

	// rank 1 waits for a message rank 0 never sends
	err := comms[1].SendRecv(ctx, -1, nil, 0, make([]float64, 4))
	assert.ErrorIs(t, err, ErrAborted)
}

func TestFrameRoundTrip(t *testing.T) {
	m := message{tag: tagGather, data: []float64{1.5, -2, math.Inf(1)}}
	got, err := decodeFrame(encodeFrame(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = decodeFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}
