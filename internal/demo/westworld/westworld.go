// Package westworld is the miner-and-wife state machine demo: two entities
// driven by fsm.StateMachine that coordinate through delayed telegrams.
package westworld

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
)

type Location string

const (
	Shack    Location = "shack"
	GoldMine Location = "goldmine"
	Bank     Location = "bank"
	Saloon   Location = "saloon"
)

const (
	MsgHiHoneyImHome messaging.MessageType = iota + 1
	MsgStewReady
)

// ErrNoDispatcher is returned by NewWorld when ctx carries no dispatcher.
var ErrNoDispatcher = errors.New("westworld: context has no telegram dispatcher")

// StewDelay is how long the stew takes in the oven.
const StewDelay = 1500 * time.Millisecond

// Homecoming rides on MsgHiHoneyImHome.
type Homecoming struct {
	Savings int
}

func (Homecoming) MessageType() messaging.MessageType { return MsgHiHoneyImHome }

// MessageName returns a printable name for the demo message types.
func MessageName(m messaging.MessageType) string {
	switch m {
	case MsgHiHoneyImHome:
		return "HiHoneyImHome"
	case MsgStewReady:
		return "StewReady"
	default:
		return "Unknown"
	}
}

// entity is the part shared by the miner and his wife.
type entity struct {
	id   model.EntityID
	name string

	dispatcher *messaging.Dispatcher
	log        logging.Logger
}

func (e *entity) ID() model.EntityID { return e.id }
func (e *entity) Name() string       { return e.name }

func (e *entity) say(line string) {
	e.log.Info(context.Background(), line, logging.String("entity", e.name))
}

func (e *entity) send(delay time.Duration, to model.EntityID, msg messaging.MessageType, p messaging.Payload) {
	if err := e.dispatcher.DispatchMessage(delay, e.id, to, msg, p); err != nil {
		e.log.Error(context.Background(), "dispatch failed",
			logging.String("entity", e.name),
			logging.String("msg", MessageName(msg)),
			logging.Err(err))
	}
}

// Options configures a World.
type Options struct {
	Seed   uint64
	Logger logging.Logger
	// Observer receives every state change with the owner's name.
	Observer func(owner string, tr fsm.Transition)
}

// World is Bob the miner and Elsa his wife, registered on an engine.
type World struct {
	Miner *Miner
	Wife  *Wife
}

// NewWorld creates both entities and adds them to se. The entities send
// through the dispatcher carried by ctx, normally se.Context(parent).
func NewWorld(ctx context.Context, se *core.SimulationEngine, opts Options) (*World, error) {
	d := messaging.DispatcherFromContext(ctx)
	if d == nil {
		return nil, ErrNoDispatcher
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	observe := func(owner string) fsm.Option {
		return fsm.WithObserver(func(tr fsm.Transition) {
			if opts.Observer != nil {
				opts.Observer(owner, tr)
			}
		})
	}

	minerID, wifeID := model.NextID(), model.NextID()
	miner := newMiner(minerID, "Miner Bob", wifeID, d, log, observe("Miner Bob"))
	wife := newWife(wifeID, "Elsa", minerID, d, log,
		rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)), observe("Elsa"))

	if err := se.Add(miner); err != nil {
		return nil, err
	}
	if err := se.Add(wife); err != nil {
		return nil, err
	}
	return &World{Miner: miner, Wife: wife}, nil
}
