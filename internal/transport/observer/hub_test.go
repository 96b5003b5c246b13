package observer

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/kb"
	"github.com/signalsfoundry/agentsim/model"
)

type namedVehicle struct {
	model.Vehicle
	state string
}

func (n *namedVehicle) StateName() string { return n.state }

type plainEntity struct{ id model.EntityID }

func (p plainEntity) ID() model.EntityID { return p.id }

func newRegistry(t *testing.T) *kb.Registry {
	t.Helper()
	reg := kb.NewRegistry()
	v := &namedVehicle{state: "Wander"}
	v.Vehicle = *model.NewVehicle(model.Vec2{X: 3, Y: 4}, model.DefaultVehicleParams())
	v.EntityID = 1
	if err := reg.Add(v); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(plainEntity{id: 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return reg
}

func TestCaptureIncludesAgentsOnly(t *testing.T) {
	reg := newRegistry(t)
	snap := Capture(core.TickReport{Tick: 9, SimTime: time.Unix(1, 0).UTC()}, reg)

	if snap.Tick != 9 || len(snap.Agents) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	a := snap.Agents[0]
	if a.ID != 1 || a.X != 3 || a.Y != 4 || a.State != "Wander" {
		t.Fatalf("agent state = %+v", a)
	}
	if a.HX != 1 || a.HY != 0 {
		t.Fatalf("heading = (%v, %v)", a.HX, a.HY)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()
	waitClients(t, hub, 2)

	reg := newRegistry(t)
	listener := hub.TickListener(reg, 2)
	listener(core.TickReport{Tick: 1})
	listener(core.TickReport{Tick: 2, SimTime: time.Unix(2, 0).UTC()})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got["tick"] != float64(2) {
			t.Fatalf("tick = %v, want 2 (tick 1 is skipped)", got["tick"])
		}
		agents, ok := got["agents"].([]any)
		if !ok || len(agents) != 1 {
			t.Fatalf("agents = %v", got["agents"])
		}
		first := agents[0].(map[string]any)
		for _, key := range []string{"id", "x", "y", "hx", "hy", "state"} {
			if _, ok := first[key]; !ok {
				t.Fatalf("agent missing %q: %v", key, first)
			}
		}
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("ReadMessage err = %v, want going-away close", err)
	}
	if hub.Clients() != 0 {
		t.Fatalf("Clients() = %d after Close", hub.Clients())
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)
	_ = conn.Close()
	waitClients(t, hub, 0)

	hub.Publish(Snapshot{Tick: 1})
	if hub.Dropped() != 0 {
		t.Fatalf("Dropped() = %d", hub.Dropped())
	}
}
