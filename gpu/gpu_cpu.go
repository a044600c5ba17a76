package gpu

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"starsea/core"
	"starsea/physics"
)

// CPUDevice runs kernels on the host with a pool of worker goroutines, one
// row of cells at a time.
type CPUDevice struct {
	numWorkers int
	in, out    []float64
}

// NewCPUDevice creates a host device. workers <= 0 uses one per CPU.
func NewCPUDevice(workers int) *CPUDevice {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUDevice{numWorkers: workers}
}

func (c *CPUDevice) Name() string { return "cpu" }

func (c *CPUDevice) Upload(state []float64, _ *core.PhysicalParams) error {
	if cap(c.in) < len(state) {
		c.in = make([]float64, len(state))
		c.out = make([]float64, len(state))
	}
	c.in = c.in[:len(state)]
	c.out = c.out[:len(state)]
	copy(c.in, state)
	copy(c.out, state)
	return nil
}

func (c *CPUDevice) Launch(ctx context.Context, k Kernel) error {
	if len(c.in) != k.Shape.Len() {
		return fmt.Errorf("uploaded %d values, kernel needs %d", len(c.in), k.Shape.Len())
	}
	if k.Model.Dim() != k.Shape.VecDim {
		return fmt.Errorf("model %v has %d components, grid has %d", k.Model.Tag(), k.Model.Dim(), k.Shape.VecDim)
	}
	in := k.grid(c.in)
	out := k.grid(c.out)

	// rows are (j, k) pairs, scanned layer by layer
	rows := k.Shape.Ny * k.Shape.Nz
	rowErrs := make([]error, rows)

	work := make(chan int, rows)
	for r := 0; r < rows; r++ {
		work <- r
	}
	close(work)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < c.numWorkers; w++ {
		g.Go(func() error {
			ws := physics.NewWorkspace(k.Shape.VecDim)
			for r := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				j := k.Shape.Ng + r%k.Shape.Ny
				layer := r / k.Shape.Ny
				for i := k.Cols.Lo; i < k.Cols.Hi; i++ {
					if err := physics.Update(k.Model, in, out.Cell(i, j, layer), i, j, layer, k.Dt, ws); err != nil {
						rowErrs[r] = cellError(k.Level, i, j, layer, err)
						break
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// the first failure in scan order, whichever worker hit it first
	for _, err := range rowErrs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *CPUDevice) Download(state []float64) error {
	if len(state) != len(c.out) {
		return fmt.Errorf("download of %d values from a %d value buffer", len(state), len(c.out))
	}
	copy(state, c.out)
	return nil
}

func (c *CPUDevice) Cleanup() {
	c.in, c.out = nil, nil
}
