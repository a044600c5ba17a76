// Package gpu runs the per-cell physics kernel of a level on a compute
// device. The CPU device is always available; the OpenGL compute device is
// built with the gl tag.
package gpu

import (
	"context"
	"errors"
	"fmt"

	"starsea/core"
	"starsea/linalg"
	"starsea/physics"
)

// Device is a compute backend. A launch reads the uploaded state and writes
// a separate output buffer, which Download returns.
type Device interface {
	Name() string
	Upload(state []float64, p *core.PhysicalParams) error
	// Launch blocks until the kernel has completed.
	Launch(ctx context.Context, k Kernel) error
	Download(state []float64) error
	Cleanup()
}

// Kernel describes one update of a level. Cols are ghost-inclusive column
// indices; every interior row and layer of those columns is updated.
type Kernel struct {
	Level int
	Model physics.Model
	Shape core.Shape
	Cols  core.Range

	Dt         float64
	Dx, Dy, Dz float64
}

func (k Kernel) grid(data []float64) *core.Grid {
	return &core.Grid{Shape: k.Shape, Dx: k.Dx, Dy: k.Dy, Dz: k.Dz, Data: data}
}

// cellError attaches the failing cell to an update error.
func cellError(level, i, j, k int, err error) error {
	if errors.Is(err, linalg.ErrSingular) {
		return &core.SingularMatrix{Level: level, I: i, J: j, K: k, Err: err}
	}
	return fmt.Errorf("level %d cell (%d,%d,%d): %w", level, i, j, k, err)
}

// Open returns the device registered under name.
func Open(name string) (Device, error) {
	switch name {
	case "", "cpu":
		return NewCPUDevice(0), nil
	case "gl":
		d, err := NewGLDevice()
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown device %q", name)
}
