// Package snapshot stores and publishes the levels a run prints.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"starsea/core"
)

// Writer receives one assembled level at a time.
type Writer interface {
	Write(level int, g *core.Grid, step int) error
}

var magic = [8]byte{'s', 't', 'a', 'r', 's', 'e', 'a', 1}

// header precedes the little endian float64 cell data of a snapshot file.
type header struct {
	Magic                  [8]byte
	Level, Step            int64
	Nx, Ny, Nz, Ng, VecDim int64
	Xmin, Ymin             float64
	Dx, Dy, Dz             float64
}

// FileSink writes every snapshot to its own zstd compressed file in Dir.
type FileSink struct {
	Dir   string
	Level zstd.EncoderLevel
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot directory: %w", err)
	}
	return &FileSink{Dir: dir, Level: zstd.SpeedDefault}, nil
}

// Path is where the snapshot of level at step is written.
func (s *FileSink) Path(level, step int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("level%d_step%06d.zst", level, step))
}

func (s *FileSink) Write(level int, g *core.Grid, step int) (err error) {
	path := s.Path(level, step)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(s.Level))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(enc)
	h := header{
		Magic: magic,
		Level: int64(level), Step: int64(step),
		Nx: int64(g.Nx), Ny: int64(g.Ny), Nz: int64(g.Nz), Ng: int64(g.Ng), VecDim: int64(g.VecDim),
		Xmin: g.Xs[g.Ng], Ymin: g.Ys[g.Ng],
		Dx: g.Dx, Dy: g.Dy, Dz: g.Dz,
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		enc.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := binary.Write(w, binary.LittleEndian, g.Data); err != nil {
		enc.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return enc.Close()
}

// ReadFile loads a snapshot written by FileSink.
func ReadFile(path string) (g *core.Grid, level, step int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes one snapshot stream.
func Read(r io.Reader) (*core.Grid, int, int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, 0, 0, err
	}
	defer dec.Close()

	var h header
	if err := binary.Read(dec, binary.LittleEndian, &h); err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot header: %w", err)
	}
	if h.Magic != magic {
		return nil, 0, 0, errors.New("not a snapshot file")
	}
	shape := core.Shape{Nx: int(h.Nx), Ny: int(h.Ny), Nz: int(h.Nz), Ng: int(h.Ng), VecDim: int(h.VecDim)}
	if shape.Nx < 0 || shape.Ny < 0 || shape.Nz < 0 || shape.Ng < 0 || shape.VecDim < 0 {
		return nil, 0, 0, fmt.Errorf("snapshot shape %+v is invalid", shape)
	}
	g := core.NewGrid(shape, h.Xmin, h.Ymin, h.Dx, h.Dy, h.Dz)
	if err := binary.Read(dec, binary.LittleEndian, g.Data); err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot data: %w", err)
	}
	return g, int(h.Level), int(h.Step), nil
}

// Multi hands every snapshot to each writer in turn and joins their errors.
type Multi []Writer

func (m Multi) Write(level int, g *core.Grid, step int) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(level, g, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
