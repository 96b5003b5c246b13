package westworld

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
)

const (
	// ComfortLevel is the bank balance at which the miner goes home.
	ComfortLevel       = 5
	MaxNuggets         = 3
	ThirstLevel        = 5
	TirednessThreshold = 5
	WhiskeyPrice       = 2
)

type Miner struct {
	entity
	fsm *fsm.StateMachine[*Miner]

	wife model.EntityID

	Location    Location
	GoldCarried int
	MoneyInBank int
	Thirst      int
	Fatigue     int
}

func newMiner(id model.EntityID, name string, wife model.EntityID, d *messaging.Dispatcher, log logging.Logger, opts ...fsm.Option) *Miner {
	m := &Miner{
		entity:   entity{id: id, name: name, dispatcher: d, log: log},
		wife:     wife,
		Location: Shack,
	}
	opts = append([]fsm.Option{fsm.WithLogger(log)}, opts...)
	m.fsm = fsm.NewStateMachine(m, opts...)
	m.fsm.SetCurrentState(GoHomeAndSleepTilRested{})
	return m
}

func (m *Miner) FSM() *fsm.StateMachine[*Miner] { return m.fsm }
func (m *Miner) StateName() string              { return m.fsm.StateName() }

func (m *Miner) UpdateBehavior(context.Context) { m.fsm.Update() }

func (m *Miner) HandleMessage(t messaging.Telegram) bool { return m.fsm.HandleMessage(t) }

func (m *Miner) PocketsFull() bool { return m.GoldCarried >= MaxNuggets }
func (m *Miner) Thirsty() bool     { return m.Thirst >= ThirstLevel }
func (m *Miner) Fatigued() bool    { return m.Fatigue > TirednessThreshold }

func (m *Miner) depositGold() {
	m.MoneyInBank += m.GoldCarried
	m.GoldCarried = 0
}

func (m *Miner) buyAndDrinkWhiskey() {
	m.Thirst = 0
	m.MoneyInBank -= WhiskeyPrice
}

// EnterMineAndDigForGold digs one nugget per update until the miner's
// pockets are full or he gets thirsty.
type EnterMineAndDigForGold struct{}

func (EnterMineAndDigForGold) Enter(m *Miner) {
	if m.Location != GoldMine {
		m.say("Walkin' to the goldmine")
		m.Location = GoldMine
	}
}

func (EnterMineAndDigForGold) Execute(m *Miner) {
	m.GoldCarried++
	m.Fatigue++
	m.Thirst++
	m.say("Pickin' up a nugget")

	switch {
	case m.PocketsFull():
		m.fsm.ChangeState(VisitBankAndDepositGold{})
	case m.Thirsty():
		m.fsm.ChangeState(QuenchThirst{})
	}
}

func (EnterMineAndDigForGold) Exit(m *Miner) {
	m.say("Ah'm leavin' the goldmine with mah pockets full o' sweet gold")
}

func (EnterMineAndDigForGold) OnMessage(*Miner, messaging.Telegram) bool { return false }

type VisitBankAndDepositGold struct{}

func (VisitBankAndDepositGold) Enter(m *Miner) {
	if m.Location != Bank {
		m.say("Goin' to the bank. Yes siree")
		m.Location = Bank
	}
}

func (VisitBankAndDepositGold) Execute(m *Miner) {
	m.depositGold()
	m.say(fmt.Sprintf("Depositing gold. Total savings now: %d", m.MoneyInBank))

	switch {
	case m.MoneyInBank >= ComfortLevel:
		m.say("WooHoo! Rich enough for now. Back home to mah li'l lady")
		m.fsm.ChangeState(GoHomeAndSleepTilRested{})
	case m.Thirsty():
		m.fsm.ChangeState(QuenchThirst{})
	default:
		m.fsm.ChangeState(EnterMineAndDigForGold{})
	}
}

func (VisitBankAndDepositGold) Exit(m *Miner) { m.say("Leavin' the bank") }

func (VisitBankAndDepositGold) OnMessage(*Miner, messaging.Telegram) bool { return false }

// GoHomeAndSleepTilRested greets the wife on arrival and sleeps off fatigue.
type GoHomeAndSleepTilRested struct{}

func (GoHomeAndSleepTilRested) Enter(m *Miner) {
	if m.Location == Shack {
		return
	}
	m.say("Walkin' home")
	m.Location = Shack
	m.send(0, m.wife, MsgHiHoneyImHome, Homecoming{Savings: m.MoneyInBank})
}

func (GoHomeAndSleepTilRested) Execute(m *Miner) {
	if m.Fatigue < 0 {
		m.say("All mah fatigue has drained away. Time to find more gold!")
		m.fsm.ChangeState(EnterMineAndDigForGold{})
		return
	}
	m.Fatigue--
	m.say("ZZZZ...")
}

func (GoHomeAndSleepTilRested) Exit(m *Miner) { m.say("Leaving the house") }

func (GoHomeAndSleepTilRested) OnMessage(m *Miner, t messaging.Telegram) bool {
	if t.Msg != MsgStewReady {
		return false
	}
	m.say("Okay Hun, ahm a comin'!")
	m.fsm.ChangeState(EatStew{})
	return true
}

type QuenchThirst struct{}

func (QuenchThirst) Enter(m *Miner) {
	if m.Location != Saloon {
		m.say("Boy, ah sure is thusty! Walking to the saloon")
		m.Location = Saloon
	}
}

func (QuenchThirst) Execute(m *Miner) {
	if m.MoneyInBank >= WhiskeyPrice {
		m.buyAndDrinkWhiskey()
		m.say("That's mighty fine sippin liquer")
		m.fsm.ChangeState(EnterMineAndDigForGold{})
		return
	}
	m.say("Error! Not enough money!")
	m.fsm.ChangeState(GoHomeAndSleepTilRested{})
}

func (QuenchThirst) Exit(m *Miner) { m.say("Leaving the saloon, feelin' good") }

func (QuenchThirst) OnMessage(*Miner, messaging.Telegram) bool { return false }

// EatStew lasts one update and then returns to whatever came before.
type EatStew struct{}

func (EatStew) Enter(m *Miner) { m.say("Smells Reaaal goood Elsa!") }

func (EatStew) Execute(m *Miner) {
	m.say("Tastes real good too!")
	m.fsm.RevertToPreviousState()
}

func (EatStew) Exit(m *Miner) { m.say("Thankya li'l lady.") }

func (EatStew) OnMessage(*Miner, messaging.Telegram) bool { return false }
