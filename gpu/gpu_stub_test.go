//go:build !gl

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenGLWithoutBuildTag(t *testing.T) {
	_, err := Open("gl")
	assert.ErrorIs(t, err, errNoGL)
}
