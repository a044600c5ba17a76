package distrib

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type opTag uint64

const (
	tagHalo opTag = iota + 1
	tagGather
	tagAbort
)

func (t opTag) String() string {
	switch t {
	case tagHalo:
		return "halo"
	case tagGather:
		return "gather"
	case tagAbort:
		return "abort"
	}
	return fmt.Sprintf("tag(%d)", uint64(t))
}

type message struct {
	tag  opTag
	data []float64
}

// linkDepth bounds the messages in flight between two ranks.
const linkDepth = 8

// cluster connects in-process ranks with one channel per ordered pair.
type cluster struct {
	size  int
	links [][]chan message // links[src][dst]

	done   context.Context
	cancel context.CancelCauseFunc
}

type localComm struct {
	c    *cluster
	rank int
}

// NewLocalCluster returns the communicators of size ranks running in this
// process. They share one abort.
func NewLocalCluster(size int) []Comm {
	c := &cluster{size: size, links: make([][]chan message, size)}
	c.done, c.cancel = context.WithCancelCause(context.Background())
	for src := range c.links {
		c.links[src] = make([]chan message, size)
		for dst := range c.links[src] {
			c.links[src][dst] = make(chan message, linkDepth)
		}
	}
	comms := make([]Comm, size)
	for r := range comms {
		comms[r] = &localComm{c: c, rank: r}
	}
	return comms
}

// RunLocal runs fn once per rank, each on its own goroutine, and returns the
// first error. A rank that fails aborts the others.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, comm Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, comm := range NewLocalCluster(size) {
		g.Go(func() error {
			err := fn(gctx, comm)
			if err != nil {
				comm.Abort(err)
			}
			return err
		})
	}
	return g.Wait()
}

func (l *localComm) Rank() int { return l.rank }
func (l *localComm) Size() int { return l.c.size }

func (l *localComm) Abort(err error) {
	l.c.cancel(fmt.Errorf("rank %d: %w", l.rank, err))
}

// interrupted prefers the abort over the cancellation of ctx, which the
// abort usually caused.
func (l *localComm) interrupted(ctx context.Context) error {
	if l.c.done.Err() != nil {
		return l.aborted()
	}
	return ctx.Err()
}

func (l *localComm) aborted() error {
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(l.c.done))
}

func (l *localComm) send(ctx context.Context, dst int, m message) error {
	if dst < 0 || dst >= l.c.size {
		return fmt.Errorf("send to rank %d of %d", dst, l.c.size)
	}
	m.data = append([]float64(nil), m.data...)
	select {
	case l.c.links[l.rank][dst] <- m:
		return nil
	case <-l.c.done.Done():
		return l.aborted()
	case <-ctx.Done():
		return l.interrupted(ctx)
	}
}

func (l *localComm) recv(ctx context.Context, src int, tag opTag) ([]float64, error) {
	if src < 0 || src >= l.c.size {
		return nil, fmt.Errorf("receive from rank %d of %d", src, l.c.size)
	}
	select {
	case m := <-l.c.links[src][l.rank]:
		if m.tag != tag {
			return nil, fmt.Errorf("expected %v message from rank %d, got %v", tag, src, m.tag)
		}
		return m.data, nil
	case <-l.c.done.Done():
		return nil, l.aborted()
	case <-ctx.Done():
		return nil, l.interrupted(ctx)
	}
}

func (l *localComm) SendRecv(ctx context.Context, dst int, send []float64, src int, recv []float64) error {
	if err := l.c.done.Err(); err != nil {
		return l.aborted()
	}
	if dst >= 0 {
		if err := l.send(ctx, dst, message{tag: tagHalo, data: send}); err != nil {
			return err
		}
	}
	if src >= 0 {
		data, err := l.recv(ctx, src, tagHalo)
		if err != nil {
			return err
		}
		if len(data) != len(recv) {
			return fmt.Errorf("received %d values from rank %d, expected %d", len(data), src, len(recv))
		}
		copy(recv, data)
	}
	return nil
}

func (l *localComm) Gather(ctx context.Context, root int, send []float64) ([][]float64, error) {
	if err := l.c.done.Err(); err != nil {
		return nil, l.aborted()
	}
	if l.rank != root {
		return nil, l.send(ctx, root, message{tag: tagGather, data: send})
	}
	out := make([][]float64, l.c.size)
	out[root] = append([]float64(nil), send...)
	for r := 0; r < l.c.size; r++ {
		if r == root {
			continue
		}
		data, err := l.recv(ctx, r, tagGather)
		if err != nil {
			return nil, err
		}
		out[r] = data
	}
	return out, nil
}
