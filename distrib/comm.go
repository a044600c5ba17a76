// Package distrib decomposes the hierarchy across ranks along x and keeps
// the seams consistent: halo exchange between neighbouring slabs and the
// gather of a level at the coordinating rank.
package distrib

import (
	"context"
	"errors"
)

// ErrAborted is returned by every pending and later operation once any rank
// has aborted the run.
var ErrAborted = errors.New("run aborted")

// Comm is the communication runtime of one rank. A peer of -1 means no
// peer: the send or the receive is skipped.
type Comm interface {
	Rank() int
	Size() int

	// SendRecv sends send to dst and then fills recv from src. Messages
	// between a pair of ranks arrive in order.
	SendRecv(ctx context.Context, dst int, send []float64, src int, recv []float64) error

	// Gather collects send from every rank at root, indexed by rank. Other
	// ranks get nil.
	Gather(ctx context.Context, root int, send []float64) ([][]float64, error)

	// Abort stops every rank. Pending and later operations return an error
	// wrapping ErrAborted and err.
	Abort(err error)
}
