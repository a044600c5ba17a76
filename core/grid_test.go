package core

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCellCoordinates documents where ghost and interior cells sit.
func TestCellCoordinates(t *testing.T) {
	g := NewGrid(Shape{Nx: 8, Ny: 4, Nz: 1, Ng: 2, VecDim: 3}, 6, 2, 0.5, 0.25, 1)

	tests := []struct {
		name    string
		i, j    int
		wantX   float64
		wantY   float64
		epsilon float64
	}{
		{name: "first ghost", i: 0, j: 0, wantX: 5, wantY: 1.5, epsilon: 1e-15},
		{name: "first interior", i: 2, j: 2, wantX: 6, wantY: 2, epsilon: 1e-15},
		{name: "last interior", i: 9, j: 5, wantX: 9.5, wantY: 2.75, epsilon: 1e-15},
		{name: "last ghost", i: 11, j: 7, wantX: 10.5, wantY: 3.25, epsilon: 1e-15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if math.Abs(g.Xs[tc.i]-tc.wantX) > tc.epsilon {
				t.Errorf("x(%d) = %g, want %g", tc.i, g.Xs[tc.i], tc.wantX)
			}
			if math.Abs(g.Ys[tc.j]-tc.wantY) > tc.epsilon {
				t.Errorf("y(%d) = %g, want %g", tc.j, g.Ys[tc.j], tc.wantY)
			}
		})
	}
}

func TestIndexLayout(t *testing.T) {
	s := Shape{Nx: 3, Ny: 2, Nz: 2, Ng: 1, VecDim: 5}
	assert.Equal(t, 5*4*2, s.Cells())
	assert.Equal(t, 5*4*2*5, s.Len())
	assert.Equal(t, 12, s.Interior())

	assert.Equal(t, 0, s.Index(0, 0, 0))
	assert.Equal(t, 5, s.Index(1, 0, 0), "x is fastest")
	assert.Equal(t, 5*5, s.Index(0, 1, 0))
	assert.Equal(t, 5*4*5, s.Index(0, 0, 1), "layers are slowest")
	assert.Equal(t, s.Len()-5, s.Index(4, 3, 1))
}

func TestCellIsAView(t *testing.T) {
	g := NewGrid(Shape{Nx: 2, Ny: 2, Nz: 1, Ng: 1, VecDim: 3}, 0, 0, 1, 1, 1)
	u := g.Cell(1, 2, 0)
	u[2] = 7
	assert.Equal(t, 7.0, g.Data[g.Index(1, 2, 0)+2])
	assert.Len(t, u, 3)
	assert.Equal(t, 3, cap(u), "appending must not spill into the next cell")
}

func TestCloneIsDeep(t *testing.T) {
	lvl := &Level{Index: 1, Model: SingleLayer, R: 2, I0: 3,
		Grid: NewGrid(Shape{Nx: 2, Ny: 2, Nz: 1, Ng: 1, VecDim: 3}, 0, 0, 1, 1, 1)}
	lvl.Grid.Data[4] = 1

	c := lvl.Clone()
	c.Grid.Data[4] = 2
	c.Grid.Xs[0] = 9
	assert.Equal(t, 1.0, lvl.Grid.Data[4])
	assert.Equal(t, -1.0, lvl.Grid.Xs[0])
	assert.Equal(t, 3, c.I0)
}

func TestSumCountsInteriorOnly(t *testing.T) {
	g := NewGrid(Shape{Nx: 2, Ny: 3, Nz: 2, Ng: 1, VecDim: 3}, 0, 0, 1, 1, 1)
	for n := 0; n < g.Cells(); n++ {
		g.Data[n*3] = 1
		g.Data[n*3+1] = 5
	}
	assert.Equal(t, 12.0, g.Sum(0))
	assert.Equal(t, 60.0, g.Sum(1))
}

func TestParseTag(t *testing.T) {
	for in, want := range map[string]Tag{
		"S": SingleLayer, "swe": SingleLayer,
		"m": MultiLayer, "C": Compressible, " lowmach ": LowMach, "L": LowMach,
	} {
		got, err := ParseTag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTag("euler")
	assert.Error(t, err)

	assert.Equal(t, 3, MultiLayer.VecDim(true))
	assert.Equal(t, 5, Compressible.VecDim(false))
	assert.Equal(t, 6, LowMach.VecDim(true))
	assert.Equal(t, 0, Tag('Q').VecDim(false))
	assert.False(t, Tag('Q').Valid())
}

func TestFinalizeInvertsMetric(t *testing.T) {
	p := PhysicalParams{
		Gamma: 1.4, Alpha: 0.8, R: 10,
		GammaDown: mgl64.Mat3{2, 0.1, 0, 0.1, 1.5, 0, 0, 0, 1},
	}
	require.NoError(t, p.Finalize())
	assert.True(t, p.GammaDown.Mul3(p.GammaUp).ApproxEqualThreshold(mgl64.Ident3(), 1e-12))
	assert.InDelta(t, (1-0.64)/20, p.Gravity(), 1e-15)

	v := p.Raise(mgl64.Vec3{2, 0.1, 0})
	assert.InDelta(t, 1, v[0], 1e-12)
	assert.InDelta(t, 0, v[1], 1e-12)
}

func TestFinalizeRejects(t *testing.T) {
	base := func() PhysicalParams {
		return PhysicalParams{Gamma: 1.4, Alpha: 1, R: 1, Cv: 1, GammaDown: mgl64.Ident3()}
	}
	tests := []struct {
		field string
		edit  func(p *PhysicalParams)
	}{
		{"alpha", func(p *PhysicalParams) { p.Alpha = math.NaN() }},
		{"gamma", func(p *PhysicalParams) { p.Gamma = 1 }},
		{"R", func(p *PhysicalParams) { p.R = 0 }},
		{"Cv", func(p *PhysicalParams) { p.Burning, p.Cv = true, 0 }},
		{"rho", func(p *PhysicalParams) { p.Rho = []float64{1, -1} }},
		{"gamma_down", func(p *PhysicalParams) { p.GammaDown = mgl64.Mat3{1, 0, 0, 1, 0, 0, 0, 0, 1} }},
	}
	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			p := base()
			tc.edit(&p)
			var cfg *ConfigError
			require.ErrorAs(t, p.Finalize(), &cfg)
			assert.Equal(t, tc.field, cfg.Field)
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	leaf := errors.New("leaf")
	for _, err := range []error{
		&SingularMatrix{Err: leaf},
		&CommunicationFailure{Err: leaf},
		&DeviceError{Err: leaf},
	} {
		assert.ErrorIs(t, err, leaf)
		assert.NotEmpty(t, err.Error())
	}
	assert.Contains(t, (&DimensionMismatch{Component: -1, Want: 3, Got: 2}).Error(), "want 3 arrays")
	assert.Contains(t, Configf("nx", "bad %d", 4).Error(), "nx: bad 4")
}
