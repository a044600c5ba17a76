//go:build !gl

package gpu

import (
	"context"
	"fmt"

	"starsea/core"
)

var errNoGL = fmt.Errorf("OpenGL compute support is not built in (build with -tags gl)")

// GLDevice stub for builds without the gl tag
type GLDevice struct{}

func NewGLDevice() (*GLDevice, error) {
	return nil, errNoGL
}

func (d *GLDevice) Name() string { return "gl" }

func (d *GLDevice) Upload([]float64, *core.PhysicalParams) error { return errNoGL }

func (d *GLDevice) Launch(context.Context, Kernel) error { return errNoGL }

func (d *GLDevice) Download([]float64) error { return errNoGL }

func (d *GLDevice) Cleanup() {}
