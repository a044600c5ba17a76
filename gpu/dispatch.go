package gpu

import (
	"context"
	"errors"
	"sync"

	"starsea/core"
	"starsea/physics"
)

// Dispatcher serialises kernel launches on one device. A failed upload,
// launch or download is returned as a *core.DeviceError and never retried.
// Failures of the physics in a cell, a *core.SingularMatrix or an error
// wrapping physics.ErrRecovery, are returned as is.
type Dispatcher struct {
	mu     sync.Mutex
	dev    Device
	params *core.PhysicalParams
}

func NewDispatcher(dev Device, p *core.PhysicalParams) *Dispatcher {
	return &Dispatcher{dev: dev, params: p}
}

func (d *Dispatcher) Device() Device { return d.dev }

// Evolve advances the columns cols of the level by dt, in place. With no
// columns the device is not touched.
func (d *Dispatcher) Evolve(ctx context.Context, lvl *core.Level, m physics.Model, cols core.Range, dt float64) error {
	if cols.Empty() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	g := lvl.Grid
	k := Kernel{
		Level: lvl.Index,
		Model: m,
		Shape: g.Shape,
		Cols:  cols,
		Dt:    dt,
		Dx:    g.Dx,
		Dy:    g.Dy,
		Dz:    g.Dz,
	}
	if err := d.dev.Upload(g.Data, d.params); err != nil {
		return d.fail(lvl, "upload", err)
	}
	if err := d.dev.Launch(ctx, k); err != nil {
		var sm *core.SingularMatrix
		if errors.As(err, &sm) || errors.Is(err, physics.ErrRecovery) {
			return err
		}
		return d.fail(lvl, "launch", err)
	}
	if err := d.dev.Download(g.Data); err != nil {
		return d.fail(lvl, "download", err)
	}
	return nil
}

func (d *Dispatcher) fail(lvl *core.Level, op string, err error) error {
	return &core.DeviceError{Device: d.dev.Name(), Level: lvl.Index, Op: op, Err: err}
}

// Close releases the device.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dev.Cleanup()
}
