package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"starsea/core"
)

// Frame is the JSON message broadcast for every snapshot. Density holds
// the interior of the top layer, row by row.
type Frame struct {
	Type    string    `json:"type"`
	Level   int       `json:"level"`
	Step    int       `json:"step"`
	Nx      int       `json:"nx"`
	Ny      int       `json:"ny"`
	Xmin    float64   `json:"xmin"`
	Ymin    float64   `json:"ymin"`
	Dx      float64   `json:"dx"`
	Dy      float64   `json:"dy"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Total   float64   `json:"total"`
	Density []float64 `json:"density"`
}

func newFrame(level int, g *core.Grid, step int) Frame {
	f := Frame{
		Type:    "snapshot",
		Level:   level,
		Step:    step,
		Nx:      g.Nx,
		Ny:      g.Ny,
		Xmin:    g.Xs[g.Ng],
		Ymin:    g.Ys[g.Ng],
		Dx:      g.Dx,
		Dy:      g.Dy,
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
		Total:   g.Sum(0),
		Density: make([]float64, 0, g.Nx*g.Ny),
	}
	for j := g.Ng; j < g.Ny+g.Ng; j++ {
		for i := g.Ng; i < g.Nx+g.Ng; i++ {
			d := g.Cell(i, j, 0)[0]
			f.Min = math.Min(f.Min, d)
			f.Max = math.Max(f.Max, d)
			f.Density = append(f.Density, d)
		}
	}
	return f
}

// Hub broadcasts snapshots to websocket observers. A client that connects
// late gets the latest frame of every level first. Slow or broken clients
// are dropped; they never fail the run.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	latest  map[int]Frame
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		latest:  make(map[int]Frame),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	mu := &sync.Mutex{}
	mu.Lock()
	h.mu.Lock()
	h.clients[conn] = mu
	backlog := make([]Frame, 0, len(h.latest))
	for _, f := range h.latest {
		backlog = append(backlog, f)
	}
	h.mu.Unlock()
	defer h.remove(conn)

	for _, f := range backlog {
		if err := conn.WriteJSON(f); err != nil {
			mu.Unlock()
			return
		}
	}
	mu.Unlock()
	h.log.Debug("observer connected", "remote", r.RemoteAddr)

	// observers only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Clients is the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write records the frame for level and sends it to every observer.
func (h *Hub) Write(level int, g *core.Grid, step int) error {
	f := newFrame(level, g, step)

	h.mu.Lock()
	h.latest[level] = f
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, mu := range h.clients {
		clients[c] = mu
	}
	h.mu.Unlock()

	start := time.Now()
	var failed []*websocket.Conn
	for c, mu := range clients {
		mu.Lock()
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := c.WriteJSON(f)
		mu.Unlock()
		if err != nil {
			h.log.Warn("dropping observer", "remote", c.RemoteAddr(), "error", err)
			c.Close()
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.remove(c)
	}
	h.log.Debug("snapshot broadcast", "level", level, "step", step,
		"clients", len(clients)-len(failed), "elapsed", time.Since(start))
	return nil
}

// ListenAndServe serves the hub on addr at /ws until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	h.log.Info("observer hub listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
