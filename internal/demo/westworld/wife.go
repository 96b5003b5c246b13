package westworld

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
)

// BathroomChance is the per-update probability of a bathroom visit.
const BathroomChance = 0.1

type Wife struct {
	entity
	fsm *fsm.StateMachine[*Wife]
	rng *rand.Rand

	husband model.EntityID

	Location Location
	Cooking  bool
}

func newWife(id model.EntityID, name string, husband model.EntityID, d *messaging.Dispatcher, log logging.Logger, rng *rand.Rand, opts ...fsm.Option) *Wife {
	w := &Wife{
		entity:   entity{id: id, name: name, dispatcher: d, log: log},
		rng:      rng,
		husband:  husband,
		Location: Shack,
	}
	opts = append([]fsm.Option{fsm.WithLogger(log)}, opts...)
	w.fsm = fsm.NewStateMachine(w, opts...)
	w.fsm.SetGlobalState(WifesGlobalState{})
	w.fsm.SetCurrentState(DoHouseWork{})
	return w
}

func (w *Wife) FSM() *fsm.StateMachine[*Wife] { return w.fsm }
func (w *Wife) StateName() string             { return w.fsm.StateName() }

func (w *Wife) UpdateBehavior(context.Context) { w.fsm.Update() }

func (w *Wife) HandleMessage(t messaging.Telegram) bool { return w.fsm.HandleMessage(t) }

// WifesGlobalState sends her to the bathroom now and then and answers the
// miner's homecoming in any state.
type WifesGlobalState struct{}

func (WifesGlobalState) Enter(*Wife) {}
func (WifesGlobalState) Exit(*Wife)  {}

func (WifesGlobalState) Execute(w *Wife) {
	// a visit while the stew is in the oven would swallow StewReady
	if w.Cooking || w.fsm.IsInState(VisitBathroom{}) {
		return
	}
	if w.rng.Float64() < BathroomChance {
		w.fsm.ChangeState(VisitBathroom{})
	}
}

func (WifesGlobalState) OnMessage(w *Wife, t messaging.Telegram) bool {
	if t.Msg != MsgHiHoneyImHome {
		return false
	}
	if h, ok := messaging.PayloadAs[Homecoming](t); ok {
		w.say(fmt.Sprintf("Hi honey. %d in the bank, is it? Let me make you some of mah fine stew", h.Savings))
	} else {
		w.say("Hi honey. Let me make you some of mah fine stew")
	}
	w.fsm.ChangeState(CookStew{})
	return true
}

type DoHouseWork struct{}

func (DoHouseWork) Enter(w *Wife) { w.say("Time to do some more housework!") }

func (DoHouseWork) Execute(w *Wife) {
	switch w.rng.IntN(3) {
	case 0:
		w.say("Moppin' the floor")
	case 1:
		w.say("Washin' the dishes")
	default:
		w.say("Makin' the bed")
	}
}

func (DoHouseWork) Exit(*Wife) {}

func (DoHouseWork) OnMessage(*Wife, messaging.Telegram) bool { return false }

type VisitBathroom struct{}

func (VisitBathroom) Enter(w *Wife) { w.say("Walkin' to the can. Need to powda mah nose") }

func (VisitBathroom) Execute(w *Wife) {
	w.say("Ahhhhhh! Sweet relief!")
	w.fsm.RevertToPreviousState()
}

func (VisitBathroom) Exit(w *Wife) { w.say("Leavin' the Jon") }

func (VisitBathroom) OnMessage(*Wife, messaging.Telegram) bool { return false }

// CookStew puts the stew in the oven with a delayed StewReady to herself
// and calls the miner when it arrives.
type CookStew struct{}

func (CookStew) Enter(w *Wife) {
	if w.Cooking {
		return
	}
	w.say("Putting the stew in the oven")
	w.send(StewDelay, w.id, MsgStewReady, nil)
	w.Cooking = true
}

func (CookStew) Execute(w *Wife) { w.say("Fussin' over food") }

func (CookStew) Exit(w *Wife) { w.say("Puttin' the stew on the table") }

func (CookStew) OnMessage(w *Wife, t messaging.Telegram) bool {
	if t.Msg != MsgStewReady {
		return false
	}
	w.say("StewReady! Lets eat")
	w.send(0, w.husband, MsgStewReady, nil)
	w.Cooking = false
	w.fsm.ChangeState(DoHouseWork{})
	return true
}
