// Package observer streams per-tick agent snapshots to websocket clients.
package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/kb"
	"github.com/signalsfoundry/agentsim/model"
)

// AgentState is one entity in a snapshot.
type AgentState struct {
	ID    int64   `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HX    float64 `json:"hx"`
	HY    float64 `json:"hy"`
	State string  `json:"state,omitempty"`
}

// Snapshot is the message sent to observers after a tick.
type Snapshot struct {
	Tick    uint64       `json:"tick"`
	SimTime time.Time    `json:"sim_time"`
	Agents  []AgentState `json:"agents"`
}

// stateNamer is implemented by entities driven by a state machine.
type stateNamer interface {
	StateName() string
}

// Capture builds a snapshot of every agent or state-driven entity in reg.
// It must run on the simulation goroutine.
func Capture(r core.TickReport, reg *kb.Registry) Snapshot {
	snap := Snapshot{Tick: r.Tick, SimTime: r.SimTime, Agents: make([]AgentState, 0, reg.Len())}
	reg.Each(func(e kb.Entity) {
		st := AgentState{ID: int64(e.ID())}
		a, isAgent := e.(model.Agent)
		if isAgent {
			p, h := a.Position(), a.Heading()
			st.X, st.Y, st.HX, st.HY = p.X, p.Y, h.X, h.Y
		}
		n, named := e.(stateNamer)
		if named {
			st.State = n.StateName()
		}
		if isAgent || named {
			snap.Agents = append(snap.Agents, st)
		}
	})
	return snap
}

type client struct {
	out  chan []byte
	done chan struct{}
}

// Hub fans snapshots out to connected clients. Slow clients miss frames
// rather than stalling the simulation.
type Hub struct {
	log      logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uint64]*client
	nextID  atomic.Uint64
	dropped atomic.Uint64
	closed  bool
}

func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uint64]*client),
	}
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Publish encodes snap once and queues it for every client.
func (h *Hub) Publish(snap Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		h.log.Warn(context.Background(), "observer snapshot encode failed", logging.Err(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// TickListener returns an engine tick listener that captures and publishes
// a snapshot every `every` ticks. Capture is skipped while nobody listens.
func (h *Hub) TickListener(reg *kb.Registry, every uint64) func(core.TickReport) {
	if every == 0 {
		every = 1
	}
	return func(r core.TickReport) {
		if r.Tick%every != 0 || h.Clients() == 0 {
			return
		}
		h.Publish(Capture(r, reg))
	}
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		close(c.done)
		delete(h.clients, id)
	}
}

func (h *Hub) add() (uint64, *client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	id := h.nextID.Add(1)
	c := &client{out: make(chan []byte, 8), done: make(chan struct{})}
	h.clients[id] = c
	return id, c, true
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.done)
		delete(h.clients, id)
	}
}

// Handler upgrades the request and streams snapshots until the client goes
// away or the hub closes.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, c, ok := h.add()
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer h.remove(id)

		ctx := r.Context()
		log := h.log.With(logging.Uint64("observer_id", id))
		log.Info(ctx, "observer connected", logging.String("remote", r.RemoteAddr))

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-c.done:
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
					writeErr <- nil
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Observers are read-only; reading only detects disconnects.
		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		select {
		case err = <-writeErr:
		case err = <-readErr:
		}
		log.Info(ctx, "observer disconnected", logging.Err(err))
	}
}
