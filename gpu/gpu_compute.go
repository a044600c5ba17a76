//go:build gl

package gpu

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"starsea/core"
)

// workGroupSize matches local_size_x and local_size_y of the shader.
const workGroupSize = 8

// GLDevice runs the single layer shallow water kernel as an OpenGL 4.3
// compute shader. The context lives on a hidden window owned by one locked
// OS thread; every GL call is sent to that thread.
type GLDevice struct {
	calls  chan func()
	window *glfw.Window

	program uint32
	buffers [2]uint32 // state in, state out

	host   []float32
	params *core.PhysicalParams
}

// NewGLDevice creates the context and compiles the kernel.
func NewGLDevice() (*GLDevice, error) {
	d := &GLDevice{calls: make(chan func())}
	ready := make(chan error)
	go d.loop(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return d, nil
}

func (d *GLDevice) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := d.init(); err != nil {
		ready <- err
		return
	}
	ready <- nil
	for fn := range d.calls {
		fn()
	}
}

func (d *GLDevice) init() error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(1, 1, "starsea", nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create GL context: %w", err)
	}
	window.MakeContextCurrent()
	d.window = window

	if err := gl.Init(); err != nil {
		d.release()
		return fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	d.program, err = compileComputeShader(sweShader)
	if err != nil {
		d.release()
		return err
	}
	gl.GenBuffers(2, &d.buffers[0])
	return nil
}

// do runs fn on the GL thread and waits for it.
func (d *GLDevice) do(fn func() error) error {
	done := make(chan error, 1)
	d.calls <- func() { done <- fn() }
	return <-done
}

func (d *GLDevice) Name() string { return "gl" }

func (d *GLDevice) Upload(state []float64, p *core.PhysicalParams) error {
	if len(state) == 0 {
		return fmt.Errorf("empty state")
	}
	d.params = p
	if cap(d.host) < len(state) {
		d.host = make([]float32, len(state))
	}
	d.host = d.host[:len(state)]
	for n, v := range state {
		d.host[n] = float32(v)
	}
	return d.do(func() error {
		size := 4 * len(d.host)
		for _, buf := range d.buffers {
			gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, buf)
			gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, gl.Ptr(&d.host[0]), gl.DYNAMIC_COPY)
		}
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
		return glError("upload")
	})
}

func (d *GLDevice) Launch(ctx context.Context, k Kernel) error {
	if tag := k.Model.Tag(); tag != core.SingleLayer {
		return fmt.Errorf("model %v has no compute shader", tag)
	}
	if len(d.host) != k.Shape.Len() {
		return fmt.Errorf("uploaded %d values, kernel needs %d", len(d.host), k.Shape.Len())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := d.params
	return d.do(func() error {
		gl.UseProgram(d.program)
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 0, d.buffers[0])
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 1, d.buffers[1])

		d.uniform1i("nx", k.Shape.Nx)
		d.uniform1i("ny", k.Shape.Ny)
		d.uniform1i("ng", k.Shape.Ng)
		d.uniform1i("colLo", k.Cols.Lo)
		d.uniform1i("colHi", k.Cols.Hi)
		d.uniform1f("dt", k.Dt)
		d.uniform1f("dx", k.Dx)
		d.uniform1f("dy", k.Dy)
		d.uniform1f("alpha", p.Alpha)
		gl.Uniform3f(d.location("beta"), float32(p.Beta[0]), float32(p.Beta[1]), float32(p.Beta[2]))
		var up [9]float32
		for n, v := range p.GammaUp {
			up[n] = float32(v)
		}
		gl.UniformMatrix3fv(d.location("gammaUp"), 1, false, &up[0])

		groupsX := (k.Cols.Len() + workGroupSize - 1) / workGroupSize
		groupsY := (k.Shape.Ny + workGroupSize - 1) / workGroupSize
		gl.DispatchCompute(uint32(groupsX), uint32(groupsY), uint32(k.Shape.Nz))
		gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT)
		gl.Finish()
		return glError("launch")
	})
}

func (d *GLDevice) location(name string) int32 {
	return gl.GetUniformLocation(d.program, gl.Str(name+"\x00"))
}

func (d *GLDevice) uniform1i(name string, v int) {
	gl.Uniform1i(d.location(name), int32(v))
}

func (d *GLDevice) uniform1f(name string, v float64) {
	gl.Uniform1f(d.location(name), float32(v))
}

func (d *GLDevice) Download(state []float64) error {
	if len(state) != len(d.host) {
		return fmt.Errorf("download of %d values from a %d value buffer", len(state), len(d.host))
	}
	err := d.do(func() error {
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, d.buffers[1])
		gl.GetBufferSubData(gl.SHADER_STORAGE_BUFFER, 0, 4*len(d.host), gl.Ptr(&d.host[0]))
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
		return glError("download")
	})
	if err != nil {
		return err
	}
	for n, v := range d.host {
		state[n] = float64(v)
	}
	return nil
}

func (d *GLDevice) Cleanup() {
	if d.calls == nil {
		return
	}
	_ = d.do(func() error {
		d.release()
		return nil
	})
	close(d.calls)
	d.calls = nil
}

func (d *GLDevice) release() {
	if d.buffers[0] != 0 {
		gl.DeleteBuffers(2, &d.buffers[0])
	}
	if d.program != 0 {
		gl.DeleteProgram(d.program)
	}
	if d.window != nil {
		d.window.Destroy()
	}
	glfw.Terminate()
}

func glError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("%s: GL error 0x%x", op, code)
	}
	return nil
}

// compileComputeShader builds the kernel program from GLSL source.
func compileComputeShader(source string) (uint32, error) {
	shader := gl.CreateShader(gl.COMPUTE_SHADER)
	src, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, src, nil)
	free()
	gl.CompileShader(shader)
	if msg, ok := infoLog(shader, gl.COMPILE_STATUS, gl.GetShaderiv, gl.GetShaderInfoLog); !ok {
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("kernel does not compile: %s", msg)
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, shader)
	gl.LinkProgram(program)
	gl.DeleteShader(shader)
	if msg, ok := infoLog(program, gl.LINK_STATUS, gl.GetProgramiv, gl.GetProgramInfoLog); !ok {
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("kernel does not link: %s", msg)
	}
	return program, nil
}

// infoLog reports whether the status of a shader or program object is set
// and, when it is not, the driver's log for it.
func infoLog(obj, status uint32,
	param func(uint32, uint32, *int32),
	read func(uint32, int32, *int32, *uint8),
) (string, bool) {
	var ok int32
	param(obj, status, &ok)
	if ok != gl.FALSE {
		return "", true
	}
	var n int32
	param(obj, gl.INFO_LOG_LENGTH, &n)
	buf := make([]byte, n+1)
	read(obj, n, nil, &buf[0])
	return driverLog(buf), false
}
