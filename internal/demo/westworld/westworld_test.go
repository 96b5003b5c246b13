package westworld

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/messaging"
)

const tick = 800 * time.Millisecond

type ownedTransition struct {
	owner string
	fsm.Transition
}

func newTestWorld(t *testing.T, log logging.Logger) (*core.SimulationEngine, *World, *[]messaging.Delivery, *[]ownedTransition) {
	t.Helper()
	var deliveries []messaging.Delivery
	var transitions []ownedTransition
	se, err := core.NewSimulationEngine(core.WorldConfig{Width: 1, Height: 1, CellsX: 1, CellsY: 1},
		core.WithDeliveryObserver(func(d messaging.Delivery) { deliveries = append(deliveries, d) }))
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	w, err := NewWorld(se.Context(context.Background()), se, Options{
		Seed:   1,
		Logger: log,
		Observer: func(owner string, tr fsm.Transition) {
			transitions = append(transitions, ownedTransition{owner: owner, Transition: tr})
		},
	})
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	return se, w, &deliveries, &transitions
}

func TestMinerEarnsAndComesHomeForStew(t *testing.T) {
	se, w, deliveries, transitions := newTestWorld(t, nil)

	if err := se.Run(context.Background(), 20, tick); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if w.Miner.MoneyInBank != 7 {
		t.Fatalf("MoneyInBank = %d, want 7", w.Miner.MoneyInBank)
	}
	if !w.Miner.FSM().IsInState(GoHomeAndSleepTilRested{}) || w.Miner.Location != Shack {
		t.Fatalf("miner in %s at %s, want home", w.Miner.StateName(), w.Miner.Location)
	}
	if w.Wife.Cooking {
		t.Fatal("wife still cooking after stew was served")
	}

	epoch := time.Unix(0, 0).UTC()
	var sawHome, sawOven, sawServed bool
	for _, d := range *deliveries {
		tg := d.Telegram
		switch {
		case tg.Msg == MsgHiHoneyImHome && tg.Receiver == w.Wife.ID():
			sawHome = true
			h, ok := messaging.PayloadAs[Homecoming](tg)
			if !ok || h.Savings != 7 {
				t.Fatalf("homecoming payload = %+v, %v", h, ok)
			}
			if !d.DeliveredAt.Equal(epoch.Add(15 * tick)) {
				t.Fatalf("homecoming delivered at %v", d.DeliveredAt)
			}
		case tg.Msg == MsgStewReady && tg.Receiver == w.Wife.ID():
			sawOven = true
			if !tg.DispatchTime.Equal(epoch.Add(15*tick + StewDelay)) {
				t.Fatalf("stew due at %v", tg.DispatchTime)
			}
			if !d.DeliveredAt.Equal(epoch.Add(17 * tick)) {
				t.Fatalf("stew delivered at %v, want tick 17", d.DeliveredAt)
			}
		case tg.Msg == MsgStewReady && tg.Receiver == w.Miner.ID():
			sawServed = true
			if !d.Handled {
				t.Fatal("miner did not handle StewReady")
			}
		}
	}
	if !sawHome || !sawOven || !sawServed {
		t.Fatalf("message flow incomplete: home=%v oven=%v served=%v", sawHome, sawOven, sawServed)
	}

	var ate, reverted bool
	for _, tr := range *transitions {
		if tr.owner != w.Miner.Name() {
			continue
		}
		if tr.From == "GoHomeAndSleepTilRested" && tr.To == "EatStew" {
			ate = true
		}
		if ate && tr.From == "EatStew" && tr.To == "GoHomeAndSleepTilRested" {
			reverted = true
		}
	}
	if !ate || !reverted {
		t.Fatalf("miner transitions missing stew: %+v", *transitions)
	}
}

func TestMinerSchedule(t *testing.T) {
	se, w, _, _ := newTestWorld(t, nil)
	steps := []struct {
		ticks int
		state string
		bank  int
	}{
		{1, "GoHomeAndSleepTilRested", 0},
		{1, "EnterMineAndDigForGold", 0},
		{3, "VisitBankAndDepositGold", 0},
		{1, "EnterMineAndDigForGold", 3},
		{2, "QuenchThirst", 3},
		{1, "EnterMineAndDigForGold", 1},
	}
	for i, s := range steps {
		if err := se.Run(context.Background(), s.ticks, tick); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := w.Miner.StateName(); got != s.state || w.Miner.MoneyInBank != s.bank {
			t.Fatalf("step %d (tick %d): state=%s bank=%d, want %s/%d",
				i, se.Tick(), got, w.Miner.MoneyInBank, s.state, s.bank)
		}
	}
}

func TestSpeechIsLoggedPerEntity(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Format: "json", Output: &buf})
	se, _, _, _ := newTestWorld(t, log)

	if err := se.Run(context.Background(), 3, tick); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"entity":"Miner Bob"`, "Pickin' up a nugget", `"entity":"Elsa"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestWifeSkipsBathroomWhileCooking(t *testing.T) {
	se, w, _, _ := newTestWorld(t, nil)
	w.Wife.FSM().ChangeState(CookStew{})
	if !w.Wife.Cooking {
		t.Fatal("CookStew did not start cooking")
	}
	for i := 0; i < 50; i++ {
		w.Wife.UpdateBehavior(context.Background())
		if w.Wife.FSM().IsInState(VisitBathroom{}) {
			t.Fatal("wife left the stew for the bathroom")
		}
	}
	if se.Dispatcher.Pending() != 1 {
		t.Fatalf("pending = %d, want the one StewReady", se.Dispatcher.Pending())
	}
}

func TestNewWorldNeedsDispatcherInContext(t *testing.T) {
	se, err := core.NewSimulationEngine(core.WorldConfig{Width: 1, Height: 1, CellsX: 1, CellsY: 1})
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	if _, err := NewWorld(context.Background(), se, Options{}); !errors.Is(err, ErrNoDispatcher) {
		t.Fatalf("NewWorld err = %v, want ErrNoDispatcher", err)
	}
	if se.Registry.Len() != 0 {
		t.Fatalf("registry has %d entities after failed NewWorld", se.Registry.Len())
	}
}

func TestMessageName(t *testing.T) {
	if MessageName(MsgStewReady) != "StewReady" || MessageName(99) != "Unknown" {
		t.Fatal("unexpected message names")
	}
}
