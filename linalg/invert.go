// Package linalg holds the dense solve used by the implicit reaction step.
package linalg

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrSingular is returned when a column has no usable pivot.
	ErrSingular = errors.New("matrix is singular")

	// ErrShape is returned when the buffer does not hold an m x m matrix.
	ErrShape = errors.New("buffer is not a square matrix")
)

// pivotFloor is the smallest pivot magnitude accepted.
const pivotFloor = 1e-300

// Invert replaces the row-major m x m matrix a with its inverse using
// Gauss-Jordan elimination with partial pivoting. On error the contents of
// a are unspecified.
func Invert(a []float64, m int) error {
	if m <= 0 || len(a) != m*m {
		return fmt.Errorf("%w: len %d, m %d", ErrShape, len(a), m)
	}

	// column permutation record: perm[c] is the row swapped into c
	perm := make([]int, m)

	for c := 0; c < m; c++ {
		p := c
		best := math.Abs(a[c*m+c])
		for r := c + 1; r < m; r++ {
			if v := math.Abs(a[r*m+c]); v > best {
				best, p = v, r
			}
		}
		if best < pivotFloor || math.IsNaN(best) {
			return fmt.Errorf("%w: column %d", ErrSingular, c)
		}
		perm[c] = p
		if p != c {
			swapRows(a, m, p, c)
		}

		inv := 1 / a[c*m+c]
		a[c*m+c] = 1
		for k := 0; k < m; k++ {
			a[c*m+k] *= inv
		}
		for r := 0; r < m; r++ {
			if r == c {
				continue
			}
			f := a[r*m+c]
			if f == 0 {
				continue
			}
			a[r*m+c] = 0
			for k := 0; k < m; k++ {
				a[r*m+k] -= f * a[c*m+k]
			}
		}
	}

	// undo the row swaps as column swaps, last first
	for c := m - 1; c >= 0; c-- {
		if perm[c] != c {
			swapCols(a, m, perm[c], c)
		}
	}
	return nil
}

func swapRows(a []float64, m, r1, r2 int) {
	for k := 0; k < m; k++ {
		a[r1*m+k], a[r2*m+k] = a[r2*m+k], a[r1*m+k]
	}
}

func swapCols(a []float64, m, c1, c2 int) {
	for r := 0; r < m; r++ {
		a[r*m+c1], a[r*m+c2] = a[r*m+c2], a[r*m+c1]
	}
}
