package physics

import (
	"fmt"
	"math"

	"starsea/core"
	"starsea/linalg"
)

const (
	burnIterations = 20
	burnTolerance  = 1e-10
)

// burnRate is the helium burning right hand side for y = (X, eps).
func burnRate(p *core.PhysicalParams, rho float64, y [2]float64) [2]float64 {
	t := y[1] / p.Cv
	if !(t > 0) && !math.IsNaN(t) {
		return [2]float64{}
	}
	x := y[0]
	omega := rho * rho * x * x * x * math.Exp(-1/t) / (t * t * t)
	return [2]float64{-omega, p.EHe * omega}
}

// burn advances the fuel fraction x and specific internal energy eps over dt
// with backward Euler. Each Newton iteration inverts the 2x2 Jacobian of
// y - y0 - dt f(y); a singular Jacobian is returned as linalg.ErrSingular.
// When the iteration has not converged after burnIterations the last iterate
// is kept.
func burn(p *core.PhysicalParams, rho, x, eps, dt float64) (float64, float64, error) {
	y0 := [2]float64{x, eps}
	y := y0
	var jac [4]float64
	for it := 0; it < burnIterations; it++ {
		f := burnRate(p, rho, y)
		g := [2]float64{
			y[0] - y0[0] - dt*f[0],
			y[1] - y0[1] - dt*f[1],
		}

		for c := 0; c < 2; c++ {
			h := 1e-7 * math.Max(math.Abs(y[c]), 1e-8)
			yh := y
			yh[c] += h
			fh := burnRate(p, rho, yh)
			for r := 0; r < 2; r++ {
				d := -dt * (fh[r] - f[r]) / h
				if r == c {
					d++
				}
				jac[r*2+c] = d
			}
		}
		if err := linalg.Invert(jac[:], 2); err != nil {
			return x, eps, fmt.Errorf("burning jacobian at iteration %d: %w", it, err)
		}

		dx := jac[0]*g[0] + jac[1]*g[1]
		de := jac[2]*g[0] + jac[3]*g[1]
		y[0] = math.Min(math.Max(y[0]-dx, 0), 1)
		y[1] -= de
		if math.Abs(dx) <= burnTolerance*math.Max(math.Abs(y[0]), 1) &&
			math.Abs(de) <= burnTolerance*math.Max(math.Abs(y[1]), 1) {
			break
		}
	}
	return y[0], y[1], nil
}

// deposit applies a burning step to the conserved state u of a cell whose
// specific internal energy went from eps0 to eps and fuel fraction to x.
// Rest mass and momentum are left alone; tau takes the released energy.
func deposit(u []float64, eps0, eps, x float64) {
	u[4] += u[0] * (eps - eps0)
	if len(u) > 5 {
		u[5] = u[0] * x
	}
}
