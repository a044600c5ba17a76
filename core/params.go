package core

import (
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// PhysicalParams are shared by every level and never change after the
// hierarchy is built, so kernels read them without locking.
type PhysicalParams struct {
	Gamma float64 // adiabatic index
	Alpha float64 // lapse

	Beta      mgl64.Vec3 // shift
	GammaDown mgl64.Mat3 // covariant spatial metric
	GammaUp   mgl64.Mat3 // contravariant spatial metric, set by Finalize

	R   float64   // stellar radius
	Rho []float64 // density of each shallow water layer

	Q   float64 // mass transfer rate between layers
	EHe float64 // energy released per unit mass of burnt fuel
	Cv  float64 // specific heat at constant volume

	Burning bool

	// BackgroundPressure closes the low Mach model.
	BackgroundPressure float64
	// SeedEnergy completes compressible states built from shallow water data.
	SeedEnergy float64
}

// metricTolerance bounds |GammaDown*GammaUp - I| entrywise.
const metricTolerance = 1e-9

// Finalize derives the contravariant metric and checks the parameters
// the models depend on.
func (p *PhysicalParams) Finalize() error {
	if p.Alpha <= 0 || math.IsNaN(p.Alpha) {
		return Configf("alpha", "lapse must be positive, got %g", p.Alpha)
	}
	if p.Gamma <= 1 {
		return Configf("gamma", "adiabatic index must exceed 1, got %g", p.Gamma)
	}
	if p.R <= 0 {
		return Configf("R", "stellar radius must be positive, got %g", p.R)
	}
	if p.Burning && p.Cv <= 0 {
		return Configf("Cv", "specific heat must be positive when burning, got %g", p.Cv)
	}
	for i, rho := range p.Rho {
		if rho <= 0 {
			return Configf("rho", "layer %d density must be positive, got %g", i, rho)
		}
	}
	det := p.GammaDown.Det()
	if math.Abs(det) < 1e-12 {
		return Configf("gamma_down", "metric is singular (det=%g)", det)
	}
	p.GammaUp = p.GammaDown.Inv()
	if !p.GammaDown.Mul3(p.GammaUp).ApproxEqualThreshold(mgl64.Ident3(), metricTolerance) {
		return Configf("gamma_down", "metric inverse is not accurate to %g", metricTolerance)
	}
	return nil
}

// Raise maps a covariant vector to its contravariant form.
func (p *PhysicalParams) Raise(v mgl64.Vec3) mgl64.Vec3 {
	return p.GammaUp.Mul3x1(v)
}

// Gravity is the weak field surface gravity implied by the lapse,
// alpha^2 = 1 - 2M/R.
func (p *PhysicalParams) Gravity() float64 {
	return (1 - p.Alpha*p.Alpha) / (2 * p.R)
}

func (p *PhysicalParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("gamma", p.Gamma),
		slog.Float64("alpha", p.Alpha),
		slog.Any("beta", p.Beta),
		slog.Float64("R", p.R),
		slog.Any("rho", p.Rho),
		slog.Float64("Q", p.Q),
		slog.Bool("burning", p.Burning),
	)
}
