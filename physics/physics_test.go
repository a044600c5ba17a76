package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
	"starsea/core"
	"starsea/linalg"
)

// testParams has a flat metric and unit lapse, so there is no gravity.
func testParams(t testing.TB, burning bool) *core.PhysicalParams {
	p := &core.PhysicalParams{
		Gamma:              5.0 / 3.0,
		Alpha:              1,
		GammaDown:          mgl64.Ident3(),
		R:                  1,
		Rho:                []float64{1, 1.1, 1.2},
		EHe:                1,
		Cv:                 1,
		Burning:            burning,
		BackgroundPressure: 0.1,
		SeedEnergy:         0.5,
	}
	require.NoError(t, p.Finalize())
	return p
}

func uniformGrid(m Model, nz int, prim []float64) *core.Grid {
	shape := core.Shape{Nx: 4, Ny: 4, Nz: nz, Ng: 1, VecDim: m.Dim()}
	g := core.NewGrid(shape, 0, 0, 0.1, 0.1, 0.1)
	u := make([]float64, m.Dim())
	m.PrimToCons(prim, u)
	for n := 0; n < shape.Cells(); n++ {
		copy(g.Data[n*shape.VecDim:], u)
	}
	return g
}

func TestUniformStateIsFixedPoint(t *testing.T) {
	tests := []struct {
		tag  core.Tag
		nz   int
		prim []float64
	}{
		{core.SingleLayer, 1, []float64{1, 0.1, -0.05}},
		{core.MultiLayer, 3, []float64{1, 0.1, -0.05}},
		{core.Compressible, 2, []float64{1, 0.1, 0, 0, 1}},
		{core.LowMach, 2, []float64{1, 0.1, 0, 0, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.tag.String(), func(t *testing.T) {
			m, err := New(tc.tag, testParams(t, false))
			require.NoError(t, err)
			g := uniformGrid(m, tc.nz, tc.prim)

			w := NewWorkspace(m.Dim())
			out := make([]float64, m.Dim())
			for k := 0; k < g.Nz; k++ {
				for j := g.Ng; j < g.Ny+g.Ng; j++ {
					for i := g.Ng; i < g.Nx+g.Ng; i++ {
						require.NoError(t, Update(m, g, out, i, j, k, 0.01, w))
						assert.Equal(t, g.Cell(i, j, k), out, "cell (%d,%d,%d)", i, j, k)
					}
				}
			}
		})
	}
}

func TestStillWaterMultilayer(t *testing.T) {
	p := testParams(t, false)
	p.Q = 0
	m, err := New(core.MultiLayer, p)
	require.NoError(t, err)

	g := uniformGrid(m, 3, []float64{1, 0, 0})
	w := NewWorkspace(3)
	out := make([]float64, 3)
	require.NoError(t, Update(m, g, out, 2, 2, 1, 0.05, w))
	assert.Equal(t, []float64{1, 0, 0}, out)
}

func TestMassTransferConservesColumn(t *testing.T) {
	p := testParams(t, false)
	p.Q = 0.3
	m, err := New(core.MultiLayer, p)
	require.NoError(t, err)

	g := uniformGrid(m, 3, []float64{1, 0, 0})
	for k := 0; k < 3; k++ {
		for j := 0; j < g.TotalY(); j++ {
			for i := 0; i < g.TotalX(); i++ {
				g.Cell(i, j, k)[0] = 1 + 0.5*float64(k)
			}
		}
	}

	total := 0.0
	out := make([]float64, 3)
	for k := 0; k < 3; k++ {
		m.Source(Stencil{Grid: g, I: 2, J: 2, K: k}, out)
		total += out[0]
	}
	assert.InDelta(t, 0, total, 1e-14)

	m.Source(Stencil{Grid: g, I: 2, J: 2, K: 0}, out)
	assert.InDelta(t, 0.3*1.5, out[0], 1e-14, "top layer receives from below")
}

func TestSWEPrimitiveRoundTrip(t *testing.T) {
	p := testParams(t, false)
	p.GammaDown = mgl64.Mat3{1.2, 0.1, 0, 0.1, 0.9, 0, 0, 0, 1}
	require.NoError(t, p.Finalize())
	m, err := New(core.SingleLayer, p)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		prim := []float64{
			rapid.Float64Range(0.1, 5).Draw(t, "phi"),
			rapid.Float64Range(-0.5, 0.5).Draw(t, "vx"),
			rapid.Float64Range(-0.5, 0.5).Draw(t, "vy"),
		}
		u := make([]float64, 3)
		got := make([]float64, 3)
		m.PrimToCons(prim, u)
		if err := m.ConsToPrim(u, got); err != nil {
			t.Fatalf("recovery: %v", err)
		}
		for c := range prim {
			if math.Abs(got[c]-prim[c]) > 1e-10 {
				t.Fatalf("component %d: got %g want %g", c, got[c], prim[c])
			}
		}
	})
}

func TestCompressiblePrimitiveRoundTrip(t *testing.T) {
	for _, tag := range []core.Tag{core.Compressible, core.LowMach} {
		t.Run(tag.String(), func(t *testing.T) {
			m, err := New(tag, testParams(t, true))
			require.NoError(t, err)

			rapid.Check(t, func(t *rapid.T) {
				prim := []float64{
					rapid.Float64Range(0.5, 2).Draw(t, "rho"),
					rapid.Float64Range(-0.4, 0.4).Draw(t, "vx"),
					rapid.Float64Range(-0.4, 0.4).Draw(t, "vy"),
					rapid.Float64Range(-0.4, 0.4).Draw(t, "vz"),
					rapid.Float64Range(0.1, 2).Draw(t, "eps"),
					rapid.Float64Range(0, 1).Draw(t, "X"),
				}
				u := make([]float64, m.Dim())
				got := make([]float64, m.Dim())
				m.PrimToCons(prim, u)
				if err := m.ConsToPrim(u, got); err != nil {
					t.Fatalf("recovery: %v", err)
				}
				for c := range prim {
					if math.Abs(got[c]-prim[c]) > 1e-8 {
						t.Fatalf("component %d: got %g want %g", c, got[c], prim[c])
					}
				}
			})
		})
	}
}

func TestRecoveryRejectsEmptyCell(t *testing.T) {
	m, err := New(core.Compressible, testParams(t, false))
	require.NoError(t, err)
	err = m.ConsToPrim([]float64{0, 0, 0, 0, 1}, make([]float64, 5))
	assert.ErrorIs(t, err, ErrRecovery)
}

func TestBurnConservesEnergy(t *testing.T) {
	p := testParams(t, true)
	x, eps, err := burn(p, 1, 0.5, 1, 0.1)
	require.NoError(t, err)

	assert.Less(t, x, 0.5)
	assert.Greater(t, eps, 1.0)
	// backward Euler keeps eps + EHe X fixed
	assert.InDelta(t, 1+p.EHe*0.5, eps+p.EHe*x, 1e-8)
}

func TestBurnColdFuelIsInert(t *testing.T) {
	p := testParams(t, true)
	x, eps, err := burn(p, 1, 0.7, 0, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.7, x)
	assert.Equal(t, 0.0, eps)
}

func TestBurnSingularJacobian(t *testing.T) {
	p := testParams(t, true)
	_, _, err := burn(p, 1, 0.5, math.NaN(), 0.1)
	assert.ErrorIs(t, err, linalg.ErrSingular)
}

func TestReactReportsSingularJacobian(t *testing.T) {
	for _, tag := range []core.Tag{core.Compressible, core.LowMach} {
		t.Run(tag.String(), func(t *testing.T) {
			m, err := New(tag, testParams(t, true))
			require.NoError(t, err)

			// rho^2 overflows, so the finite difference Jacobian is NaN
			u := make([]float64, m.Dim())
			m.PrimToCons([]float64{1e200, 0, 0, 0, 1, 1}, u)
			assert.ErrorIs(t, m.React(u, 0.1), linalg.ErrSingular)
		})
	}
}

func TestReactBurnsFuel(t *testing.T) {
	for _, tag := range []core.Tag{core.Compressible, core.LowMach} {
		t.Run(tag.String(), func(t *testing.T) {
			m, err := New(tag, testParams(t, true))
			require.NoError(t, err)

			u := make([]float64, 6)
			m.PrimToCons([]float64{1, 0.1, 0.05, 0, 1, 0.5}, u)
			before := append([]float64(nil), u...)
			require.NoError(t, m.React(u, 0.1))

			assert.Equal(t, before[:4], u[:4], "burning keeps rest mass and momentum")
			assert.Greater(t, u[4], before[4], "tau takes the released energy")

			prim := make([]float64, 6)
			require.NoError(t, m.ConsToPrim(u, prim))
			assert.Less(t, prim[5], 0.5)
			assert.Greater(t, prim[4], 1.0)
		})
	}
}

func TestCompleteSeedsRestState(t *testing.T) {
	for _, tag := range []core.Tag{core.Compressible, core.LowMach} {
		t.Run(tag.String(), func(t *testing.T) {
			p := testParams(t, true)
			m, err := New(tag, p)
			require.NoError(t, err)

			u := []float64{1.3, 0.2, -0.1, 7, 7, 7}
			m.Complete(u)

			prim := make([]float64, 6)
			require.NoError(t, m.ConsToPrim(u, prim))
			assert.InDelta(t, 0, prim[3], 1e-14, "no vertical velocity")
			assert.InDelta(t, p.SeedEnergy, prim[4], 1e-6)
			assert.InDelta(t, 1, prim[5], 1e-12, "fresh fuel")
		})
	}
}
