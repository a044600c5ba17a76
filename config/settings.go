// Package config loads run settings from YAML or HCL parameter files.
// Settings start from Default and the file only overrides what it names.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
	"starsea/core"
	"starsea/simulation"
)

type Settings struct {
	Nx int     `yaml:"nx" hcl:"nx,optional"`
	Ny int     `yaml:"ny" hcl:"ny,optional"`
	Nt int     `yaml:"nt" hcl:"nt,optional"`
	Ng int     `yaml:"ng" hcl:"ng,optional"`
	R  int     `yaml:"r" hcl:"r,optional"`
	Df float64 `yaml:"df" hcl:"df,optional"`

	Xmin float64 `yaml:"xmin" hcl:"xmin,optional"`
	Xmax float64 `yaml:"xmax" hcl:"xmax,optional"`
	Ymin float64 `yaml:"ymin" hcl:"ymin,optional"`
	Ymax float64 `yaml:"ymax" hcl:"ymax,optional"`
	Zmin float64 `yaml:"zmin" hcl:"zmin,optional"`
	Zmax float64 `yaml:"zmax" hcl:"zmax,optional"`

	Rho       []float64 `yaml:"rho" hcl:"rho,optional"`
	Q         float64   `yaml:"Q" hcl:"Q,optional"`
	Gamma     float64   `yaml:"gamma" hcl:"gamma,optional"`
	EHe       float64   `yaml:"E_He" hcl:"E_He,optional"`
	Cv        float64   `yaml:"Cv" hcl:"Cv,optional"`
	Alpha     float64   `yaml:"alpha" hcl:"alpha,optional"`
	Beta      []float64 `yaml:"beta" hcl:"beta,optional"`
	GammaDown []float64 `yaml:"gamma_down" hcl:"gamma_down,optional"`
	StarR     float64   `yaml:"R" hcl:"R,optional"`

	BackgroundPressure float64 `yaml:"background_pressure" hcl:"background_pressure,optional"`
	SeedEnergy         float64 `yaml:"seed_energy" hcl:"seed_energy,optional"`

	Periodic bool    `yaml:"periodic" hcl:"periodic,optional"`
	Burning  bool    `yaml:"burning" hcl:"burning,optional"`
	Dprint   int     `yaml:"dprint" hcl:"dprint,optional"`
	CFL      float64 `yaml:"cfl" hcl:"cfl,optional"`
	Tstart   int     `yaml:"tstart" hcl:"tstart,optional"`

	Levels []LevelSettings `yaml:"levels" hcl:"level,block"`

	Initial          string  `yaml:"initial" hcl:"initial,optional"`
	InitialHeight    float64 `yaml:"initial_height" hcl:"initial_height,optional"`
	InitialAmplitude float64 `yaml:"initial_amplitude" hcl:"initial_amplitude,optional"`
	InitialWidth     float64 `yaml:"initial_width" hcl:"initial_width,optional"`
	InitialVx        float64 `yaml:"initial_vx" hcl:"initial_vx,optional"`
	InitialVy        float64 `yaml:"initial_vy" hcl:"initial_vy,optional"`

	Device  string `yaml:"device" hcl:"device,optional"`
	Workers int    `yaml:"workers" hcl:"workers,optional"`
	Out     string `yaml:"out" hcl:"out,optional"`
	Serve   string `yaml:"serve" hcl:"serve,optional"`
}

// LevelSettings is one level, coarsest first. In HCL each level is a block
// labelled with its model: level "S" { print = true }.
type LevelSettings struct {
	Model  string `yaml:"model" hcl:"model,label"`
	Nz     int    `yaml:"nz" hcl:"nz,optional"`
	Nx     int    `yaml:"nx" hcl:"nx,optional"`
	Ny     int    `yaml:"ny" hcl:"ny,optional"`
	I0     int    `yaml:"i0" hcl:"i0,optional"`
	J0     int    `yaml:"j0" hcl:"j0,optional"`
	VecDim int    `yaml:"vec_dim" hcl:"vec_dim,optional"`
	Print  bool   `yaml:"print" hcl:"print,optional"`
}

func defaultLevels() []LevelSettings {
	return []LevelSettings{{Model: "S", Print: true}}
}

// Default returns the settings used for anything a parameter file leaves out.
func Default() Settings {
	return Settings{
		Nx: 100, Ny: 100, Nt: 100, Ng: 4, R: 2, Df: 0.4,
		Xmin: 0, Xmax: 10,
		Ymin: 0, Ymax: 10,
		Zmin: 0, Zmax: 1,
		Rho:       []float64{1},
		Gamma:     5.0 / 3.0,
		EHe:       1,
		Cv:        1,
		Alpha:     0.9,
		Beta:      []float64{0, 0, 0},
		GammaDown: []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		StarR:     100,

		BackgroundPressure: 0.1,
		SeedEnergy:         0.5,

		Dprint: 10,
		CFL:    simulation.DefaultCFL,

		Initial:          "gaussian",
		InitialHeight:    1,
		InitialAmplitude: 0.1,
		InitialWidth:     1,

		Device: "cpu",
		Out:    "snapshots",
	}
}

// Load reads the parameter file at path over the defaults. The format
// follows the extension: .yaml, .yml or .hcl.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes data, named filename for diagnostics, over the defaults.
func Parse(data []byte, filename string) (Settings, error) {
	s := Default()
	s.Levels = nil
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	case ".hcl":
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(data, filename)
		if diags.HasErrors() {
			return Settings{}, fmt.Errorf("failed to parse %s: %w", filename, diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &s); diags.HasErrors() {
			return Settings{}, fmt.Errorf("failed to decode %s: %w", filename, diags)
		}
	default:
		return Settings{}, fmt.Errorf("settings file %s: unknown format, want .yaml, .yml or .hcl", filename)
	}
	if len(s.Levels) == 0 {
		s.Levels = defaultLevels()
	}
	return s, nil
}

// Params converts the settings into hierarchy parameters. Only the
// conversion is checked here; simulation.Validate checks the rest.
func (s Settings) Params() (simulation.Params, error) {
	if len(s.Beta) != 3 {
		return simulation.Params{}, core.Configf("beta", "shift needs 3 components, got %d", len(s.Beta))
	}
	if len(s.GammaDown) != 9 {
		return simulation.Params{}, core.Configf("gamma_down", "metric needs 9 components, got %d", len(s.GammaDown))
	}
	var gammaDown mgl64.Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			gammaDown.Set(r, c, s.GammaDown[r*3+c])
		}
	}

	levels := make([]simulation.LevelSpec, len(s.Levels))
	for k, l := range s.Levels {
		tag, err := core.ParseTag(l.Model)
		if err != nil {
			return simulation.Params{}, core.Configf(fmt.Sprintf("levels[%d].model", k), "%v", err)
		}
		levels[k] = simulation.LevelSpec{
			Model:  tag,
			Nz:     l.Nz,
			Nx:     l.Nx,
			Ny:     l.Ny,
			I0:     l.I0,
			J0:     l.J0,
			VecDim: l.VecDim,
			Print:  l.Print,
		}
	}

	return simulation.Params{
		Nx: s.Nx, Ny: s.Ny, Ng: s.Ng, R: s.R, Df: s.Df,
		Xmin: s.Xmin, Xmax: s.Xmax,
		Ymin: s.Ymin, Ymax: s.Ymax,
		Zmin: s.Zmin, Zmax: s.Zmax,
		Levels: levels,
		Physical: core.PhysicalParams{
			Gamma:              s.Gamma,
			Alpha:              s.Alpha,
			Beta:               mgl64.Vec3{s.Beta[0], s.Beta[1], s.Beta[2]},
			GammaDown:          gammaDown,
			R:                  s.StarR,
			Rho:                append([]float64(nil), s.Rho...),
			Q:                  s.Q,
			EHe:                s.EHe,
			Cv:                 s.Cv,
			Burning:            s.Burning,
			BackgroundPressure: s.BackgroundPressure,
			SeedEnergy:         s.SeedEnergy,
		},
		Periodic:  s.Periodic,
		Nt:        s.Nt,
		Dprint:    s.Dprint,
		CFL:       s.CFL,
		StartStep: s.Tstart,
	}, nil
}

// Validate checks that the settings describe a hierarchy New would accept.
func (s Settings) Validate() error {
	p, err := s.Params()
	if err != nil {
		return err
	}
	if _, err := profile(s); err != nil {
		return err
	}
	return simulation.Validate(p)
}
