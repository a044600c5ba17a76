package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"starsea/snapshot"
)

const smallRun = `
nx: 16
ny: 8
ng: 2
nt: 4
dprint: 2
periodic: true
xmax: 16
ymax: 8
levels:
  - model: S
    print: true
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeParams(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "-c", writeParams(t, "run.yaml", smallRun))
	require.NoError(t, err)
	assert.Contains(t, out, "1 levels, 16x8 coarse cells, 4 steps")

	_, err = execute(t, "validate", "-c", writeParams(t, "bad.yaml", "nx: 3\nng: 2\n"))
	assert.ErrorContains(t, err, "levels[0].nx")
}

func TestRunCommandWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "-c", writeParams(t, "run.yaml", smallRun),
		"--ranks", "2", "--out", dir, "--log-level", "error")
	require.NoError(t, err)

	sink := &snapshot.FileSink{Dir: dir}
	for _, step := range []int{2, 4} {
		g, level, got, err := snapshot.ReadFile(sink.Path(0, step))
		require.NoError(t, err)
		assert.Equal(t, 0, level)
		assert.Equal(t, step, got)
		assert.Equal(t, 16, g.Nx)
	}
}

func TestRunCommandNeedsConfig(t *testing.T) {
	_, err := execute(t, "validate", "-c", "")
	assert.ErrorContains(t, err, "parameter file is required")
}
