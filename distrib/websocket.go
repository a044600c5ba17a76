package distrib

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"starsea/core"
)

const (
	wsPath      = "/starsea"
	inboxDepth  = 64
	dialBackoff = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers are other ranks, not browsers
	},
}

// peer is the connection to one other rank.
type peer struct {
	conn  *websocket.Conn
	mu    sync.Mutex // one writer at a time
	inbox chan message
}

// WSComm is a Comm for one process per rank. Every pair of ranks shares one
// websocket connection: rank p dials every q < p and accepts every q > p.
// Frames are binary, an 8 byte little endian tag followed by the payload as
// little endian float64 values.
type WSComm struct {
	rank  int
	peers []*peer

	server  *http.Server
	closing atomic.Bool

	done   context.Context
	cancel context.CancelCauseFunc
}

func wsURL(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	u.Path = wsPath
	return u, nil
}

// DialCluster connects rank to every other rank. peers lists one address per
// rank (host:port or ws:// URL); peers[rank] is the address this rank
// listens on. It returns once the full mesh is up.
func DialCluster(ctx context.Context, rank int, peers []string) (*WSComm, error) {
	size := len(peers)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d outside cluster of %d", rank, size)
	}
	c := &WSComm{rank: rank, peers: make([]*peer, size)}
	c.done, c.cancel = context.WithCancelCause(context.Background())

	self, err := wsURL(peers[rank])
	if err != nil {
		return nil, fmt.Errorf("rank %d address: %w", rank, err)
	}
	ln, err := net.Listen("tcp", self.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", self.Host, err)
	}

	type accepted struct {
		rank int
		conn *websocket.Conn
	}
	acceptCh := make(chan accepted, size)
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		q, err := strconv.Atoi(r.URL.Query().Get("rank"))
		if err != nil || q <= rank || q >= size {
			http.Error(w, "bad rank", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		acceptCh <- accepted{rank: q, conn: conn}
	})
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go c.server.Serve(ln)

	fail := func(err error) (*WSComm, error) {
		c.Close()
		return nil, err
	}

	for q := 0; q < rank; q++ {
		conn, err := dialPeer(ctx, peers[q], rank)
		if err != nil {
			return fail(&core.CommunicationFailure{Rank: rank, Peer: q, Op: "dial", Err: err})
		}
		c.peers[q] = &peer{conn: conn, inbox: make(chan message, inboxDepth)}
	}
	for n := rank + 1; n < size; n++ {
		select {
		case a := <-acceptCh:
			if c.peers[a.rank] != nil {
				a.conn.Close()
				return fail(fmt.Errorf("rank %d connected twice", a.rank))
			}
			c.peers[a.rank] = &peer{conn: a.conn, inbox: make(chan message, inboxDepth)}
		case <-ctx.Done():
			return fail(&core.CommunicationFailure{Rank: rank, Peer: -1, Op: "accept", Err: ctx.Err()})
		}
	}

	for q, p := range c.peers {
		if p != nil {
			go c.read(q, p)
		}
	}
	return c, nil
}

// dialPeer keeps dialing until the peer is listening or ctx ends. Ranks
// start in any order.
func dialPeer(ctx context.Context, addr string, rank int) (*websocket.Conn, error) {
	u, err := wsURL(addr)
	if err != nil {
		return nil, err
	}
	u.RawQuery = url.Values{"rank": {strconv.Itoa(rank)}}.Encode()
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			return conn, nil
		}
		select {
		case <-time.After(dialBackoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
	}
}

func (c *WSComm) read(q int, p *peer) {
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			// a peer that closed normally has finished its run
			if !c.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.cancel(&core.CommunicationFailure{Rank: c.rank, Peer: q, Op: "read", Err: err})
			}
			return
		}
		m, err := decodeFrame(frame)
		if err != nil {
			c.cancel(&core.CommunicationFailure{Rank: c.rank, Peer: q, Op: "decode", Err: err})
			return
		}
		if m.tag == tagAbort {
			c.cancel(fmt.Errorf("rank %d aborted", q))
			return
		}
		select {
		case p.inbox <- m:
		case <-c.done.Done():
			return
		}
	}
}

func encodeFrame(m message) []byte {
	buf := make([]byte, 8+8*len(m.data))
	binary.LittleEndian.PutUint64(buf, uint64(m.tag))
	for n, v := range m.data {
		binary.LittleEndian.PutUint64(buf[8+8*n:], math.Float64bits(v))
	}
	return buf
}

func decodeFrame(buf []byte) (message, error) {
	if len(buf) < 8 || (len(buf)-8)%8 != 0 {
		return message{}, fmt.Errorf("malformed frame of %d bytes", len(buf))
	}
	m := message{
		tag:  opTag(binary.LittleEndian.Uint64(buf)),
		data: make([]float64, (len(buf)-8)/8),
	}
	for n := range m.data {
		m.data[n] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8+8*n:]))
	}
	return m, nil
}

func (c *WSComm) Rank() int { return c.rank }
func (c *WSComm) Size() int { return len(c.peers) }

// interrupted prefers the abort over the cancellation of ctx, which the
// abort usually caused.
func (c *WSComm) interrupted(ctx context.Context) error {
	if c.done.Err() != nil {
		return c.aborted()
	}
	return ctx.Err()
}

func (c *WSComm) aborted() error {
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(c.done))
}

func (c *WSComm) peer(q int) (*peer, error) {
	if q < 0 || q >= len(c.peers) || c.peers[q] == nil {
		return nil, fmt.Errorf("no connection to rank %d", q)
	}
	return c.peers[q], nil
}

func (c *WSComm) send(dst int, m message) error {
	p, err := c.peer(dst)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(m))
}

func (c *WSComm) recv(ctx context.Context, src int, tag opTag) ([]float64, error) {
	p, err := c.peer(src)
	if err != nil {
		return nil, err
	}
	var m message
	select {
	case m = <-p.inbox:
	default:
		select {
		case m = <-p.inbox:
		case <-c.done.Done():
			return nil, c.aborted()
		case <-ctx.Done():
			return nil, c.interrupted(ctx)
		}
	}
	if m.tag != tag {
		return nil, fmt.Errorf("expected %v frame from rank %d, got %v", tag, src, m.tag)
	}
	return m.data, nil
}

func (c *WSComm) SendRecv(ctx context.Context, dst int, send []float64, src int, recv []float64) error {
	if c.done.Err() != nil {
		return c.aborted()
	}
	if dst >= 0 {
		if err := c.send(dst, message{tag: tagHalo, data: send}); err != nil {
			return err
		}
	}
	if src >= 0 {
		data, err := c.recv(ctx, src, tagHalo)
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

func (c *WSComm) Gather(ctx context.Context, root int, send []float64) ([][]float64, error) {
	if c.done.Err() != nil {
		return nil, c.aborted()
	}
	if c.rank != root {
		return nil, c.send(root, message{tag: tagGather, data: send})
	}
	out := make([][]float64, len(c.peers))
	out[root] = append([]float64(nil), send...)
	for q := range c.peers {
		if q == root {
			continue
		}
		data, err := c.recv(ctx, q, tagGather)
		if err != nil {
			return nil, err
		}
		out[q] = data
	}
	return out, nil
}

// Abort tells every peer to stop and fails all pending operations here.
func (c *WSComm) Abort(err error) {
	c.cancel(fmt.Errorf("rank %d: %w", c.rank, err))
	for q := range c.peers {
		if q != c.rank && c.peers[q] != nil {
			_ = c.send(q, message{tag: tagAbort})
		}
	}
}

// Close shuts the connections and the listener.
func (c *WSComm) Close() error {
	c.closing.Store(true)
	c.cancel(errors.New("communicator closed"))
	var errs []error
	for _, p := range c.peers {
		if p == nil {
			continue
		}
		p.mu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.mu.Unlock()
		errs = append(errs, p.conn.Close())
	}
	if c.server != nil {
		errs = append(errs, c.server.Close())
	}
	return errors.Join(errs...)
}
