// Package core runs the per-tick simulation loop around the agent core:
// clock, telegram dispatcher, entity registry and spatial grid.
package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/internal/observability"
	"github.com/signalsfoundry/agentsim/kb"
	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/spatial"
	"github.com/signalsfoundry/agentsim/steering"
	"github.com/signalsfoundry/agentsim/timectrl"
)

// Behaver is an entity with per-tick decision logic, typically a state
// machine update. ctx carries the engine's dispatcher and logger (see
// Context) and the tick span.
type Behaver interface {
	UpdateBehavior(ctx context.Context)
}

// Steerer is an agent driven by a steering composer. The engine asks for
// its inputs after every Behaver has run, computes the force and hands it
// back through ApplyForce; integrating the force is the agent's job.
type Steerer interface {
	model.Agent
	Steering() *steering.Composer
	SteeringInputs() steering.Inputs
	ApplyForce(force model.Vec2, dt float64)
}

// TickReport summarises one completed tick.
type TickReport struct {
	Tick      uint64
	SimTime   time.Time
	Delivered int
	Pending   int
	Entities  int
	Steered   int
	GridMoves uint64
	GridNoOps uint64
	Duration  time.Duration
}

// WorldConfig sizes the spatial grid.
type WorldConfig struct {
	Width  float64
	Height float64
	CellsX int
	CellsY int
}

// Option configures a SimulationEngine.
type Option func(*SimulationEngine)

func WithLogger(l logging.Logger) Option {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

func WithMetrics(c *observability.SimCollector) Option {
	return func(se *SimulationEngine) { se.metrics = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(se *SimulationEngine) {
		if t != nil {
			se.tracer = t
		}
	}
}

// WithStartTime sets the simulation epoch. Defaults to the Unix epoch so
// runs are reproducible.
func WithStartTime(t time.Time) Option {
	return func(se *SimulationEngine) { se.start = t }
}

// WithNeighborRadius sets the grid query radius used to fill neighbour
// lists for agents with group behaviours enabled.
func WithNeighborRadius(r float64) Option {
	return func(se *SimulationEngine) { se.neighborRadius = r }
}

// WithDeliveryObserver forwards every telegram delivery to fn.
func WithDeliveryObserver(fn func(messaging.Delivery)) Option {
	return func(se *SimulationEngine) {
		if fn != nil {
			se.deliveryObservers = append(se.deliveryObservers, fn)
		}
	}
}

// SimulationEngine owns simulation time and the shared core services and
// runs ticks in a fixed order:
//
//  1. advance the clock
//  2. move agents between grid buckets for positions changed last tick
//  3. deliver due telegrams
//  4. run tick-wide precompute hooks
//  5. UpdateBehavior on every Behaver
//  6. compute steering forces for every Steerer, then apply them
//  7. notify tick listeners
//
// Entities are visited in registration order. The engine is not safe for
// concurrent use; side channels should consume TickReports.
type SimulationEngine struct {
	Clock      *timectrl.TimeController
	Dispatcher *messaging.Dispatcher
	Registry   *kb.Registry
	Grid       *spatial.Grid[model.Agent]

	log               logging.Logger
	metrics           *observability.SimCollector
	tracer            trace.Tracer
	start             time.Time
	neighborRadius    float64
	deliveryObservers []func(messaging.Delivery)

	tick          uint64
	lastPos       map[model.EntityID]model.Vec2
	lastStats     spatial.Stats
	precompute    []func(ctx context.Context, now time.Time)
	tickListeners []func(TickReport)

	neighbors []model.Agent
	forces    []model.Vec2
	steerers  []Steerer
}

// NewSimulationEngine builds an engine with an empty world.
func NewSimulationEngine(world WorldConfig, opts ...Option) (*SimulationEngine, error) {
	se := &SimulationEngine{
		log:            logging.Noop(),
		tracer:         observability.Tracer(),
		start:          time.Unix(0, 0).UTC(),
		neighborRadius: 100,
		lastPos:        make(map[model.EntityID]model.Vec2),
		neighbors:      make([]model.Agent, 0, 64),
	}
	for _, opt := range opts {
		opt(se)
	}

	grid, err := spatial.NewGrid[model.Agent](world.Width, world.Height, world.CellsX, world.CellsY)
	if err != nil {
		return nil, fmt.Errorf("world grid: %w", err)
	}
	se.Grid = grid
	se.Registry = kb.NewRegistry()
	se.Clock = timectrl.NewTimeController(se.start, 0, timectrl.Accelerated)

	dopts := []messaging.Option{messaging.WithLogger(se.log.With(logging.String("component", "dispatcher")))}
	if se.metrics != nil {
		dopts = append(dopts, messaging.WithMetrics(se.metrics))
	}
	for _, fn := range se.deliveryObservers {
		dopts = append(dopts, messaging.WithDeliveryObserver(fn))
	}
	se.Dispatcher = messaging.NewDispatcher(se.Clock, se.Registry, dopts...)
	return se, nil
}

// Context returns ctx carrying the engine's dispatcher and logger, for
// application code that sends telegrams outside a tick.
func (se *SimulationEngine) Context(ctx context.Context) context.Context {
	ctx = messaging.ContextWithDispatcher(ctx, se.Dispatcher)
	return logging.ContextWithLogger(ctx, se.log)
}

// Now returns the current simulation time.
func (se *SimulationEngine) Now() time.Time { return se.Clock.Now() }

// Tick returns the number of completed ticks.
func (se *SimulationEngine) Tick() uint64 { return se.tick }

// Add registers e. Agents are also inserted into the spatial grid.
func (se *SimulationEngine) Add(e kb.Entity) error {
	if err := se.Registry.Add(e); err != nil {
		return err
	}
	if a, ok := e.(model.Agent); ok {
		se.Grid.Insert(a)
		se.lastPos[a.ID()] = a.Position()
	}
	se.metrics.SetAgents(se.Registry.Len())
	return nil
}

// Remove unregisters the entity with id and drops it from the grid.
// Telegrams already queued for it will be dropped as unroutable.
func (se *SimulationEngine) Remove(id model.EntityID) error {
	e, err := se.Registry.Remove(id)
	if err != nil {
		return err
	}
	if a, ok := e.(model.Agent); ok {
		se.Grid.Remove(a, se.lastPos[id])
		delete(se.lastPos, id)
	}
	se.metrics.SetAgents(se.Registry.Len())
	return nil
}

// RegisterPrecompute adds a hook run once per tick after telegram delivery
// and before any entity update. Use it for tick-wide facts many agents read.
func (se *SimulationEngine) RegisterPrecompute(fn func(ctx context.Context, now time.Time)) {
	se.precompute = append(se.precompute, fn)
}

// RegisterTickListener adds a callback invoked after every tick.
func (se *SimulationEngine) RegisterTickListener(fn func(TickReport)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// Step runs one tick of length dt.
func (se *SimulationEngine) Step(ctx context.Context, dt time.Duration) TickReport {
	started := time.Now()
	ctx, span := se.tracer.Start(ctx, "sim.tick")
	defer span.End()

	now := se.Clock.Advance(dt)
	se.tick++
	secs := dt.Seconds()

	se.syncGrid()

	delivered := se.Dispatcher.Update(now)

	for _, fn := range se.precompute {
		fn(ctx, now)
	}

	bctx := se.Context(ctx)
	entities := se.Registry.List()
	for _, e := range entities {
		b, ok := e.(Behaver)
		if !ok {
			continue
		}
		// an earlier entity may have removed this one
		if _, still := se.Registry.Get(e.ID()); still {
			b.UpdateBehavior(bctx)
		}
	}

	se.steerers = se.steerers[:0]
	se.forces = se.forces[:0]
	for _, e := range entities {
		s, ok := e.(Steerer)
		if !ok {
			continue
		}
		if _, still := se.Registry.Get(s.ID()); !still {
			continue
		}
		se.steerers = append(se.steerers, s)
		se.forces = append(se.forces, se.steer(s, secs))
	}
	for i, s := range se.steerers {
		s.ApplyForce(se.forces[i], secs)
	}

	stats := se.Grid.Stats()
	report := TickReport{
		Tick:      se.tick,
		SimTime:   now,
		Delivered: delivered,
		Pending:   se.Dispatcher.Pending(),
		Entities:  len(entities),
		Steered:   len(se.steerers),
		GridMoves: stats.Moves - se.lastStats.Moves,
		GridNoOps: stats.NoOps - se.lastStats.NoOps,
		Duration:  time.Since(started),
	}
	se.lastStats = stats

	span.SetAttributes(
		attribute.Int64("sim.tick", int64(report.Tick)),
		attribute.Int("sim.telegrams_delivered", report.Delivered),
		attribute.Int("sim.entities", report.Entities),
	)
	se.metrics.ObserveTick(report.Duration)
	se.metrics.AddGridStats(report.GridMoves, report.GridNoOps)

	for _, fn := range se.tickListeners {
		fn(report)
	}
	return report
}

func (se *SimulationEngine) steer(s Steerer, dt float64) model.Vec2 {
	c := s.Steering()
	if c == nil {
		return model.Vec2{}
	}
	in := s.SteeringInputs()
	if c.Flags()&steering.GroupBehaviors != 0 && in.Neighbors == nil {
		se.neighbors = se.Grid.QueryInto(se.neighbors[:0], s.Position(), se.neighborRadius)
		in.Neighbors = se.neighbors
	}
	return c.Calculate(dt, in)
}

// syncGrid moves agents whose position changed since the last tick into
// their new buckets.
func (se *SimulationEngine) syncGrid() {
	se.Registry.Each(func(e kb.Entity) {
		a, ok := e.(model.Agent)
		if !ok {
			return
		}
		id := a.ID()
		pos := a.Position()
		old, seen := se.lastPos[id]
		if !seen {
			se.Grid.Insert(a)
		} else if old == pos {
			return
		} else if !se.Grid.UpdatePosition(a, old) {
			se.Grid.Insert(a)
		}
		se.lastPos[id] = pos
	})
}

// Run steps the engine until ticks have run or ctx is cancelled. A
// non-positive ticks runs until cancellation.
func (se *SimulationEngine) Run(ctx context.Context, ticks int, dt time.Duration) error {
	ctx, log := logging.WithRunLogger(ctx, se.log)
	log.Info(ctx, "simulation started",
		logging.Int("ticks", ticks),
		logging.Duration("dt", dt),
		logging.Int("entities", se.Registry.Len()),
	)
	for i := 0; ticks <= 0 || i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			log.Info(ctx, "simulation stopped", logging.Uint64("tick", se.tick), logging.Err(err))
			return err
		}
		se.Step(ctx, dt)
	}
	log.Info(ctx, "simulation finished",
		logging.Uint64("tick", se.tick),
		logging.Time("sim_time", se.Now()),
	)
	return nil
}

// RunRealTime steps the engine once per wall-clock dt, paced by a
// RealTime TimeController whose listener runs each Step. Only the pacer
// goroutine touches the engine until RunRealTime returns. A non-positive
// ticks runs until cancellation.
func (se *SimulationEngine) RunRealTime(ctx context.Context, ticks int, dt time.Duration) error {
	if dt <= 0 {
		return fmt.Errorf("real-time run needs a positive dt, got %v", dt)
	}
	ctx, log := logging.WithRunLogger(ctx, se.log)
	log.Info(ctx, "simulation started",
		logging.Int("ticks", ticks),
		logging.Duration("dt", dt),
		logging.String("mode", timectrl.RealTime.String()),
		logging.Int("entities", se.Registry.Len()),
	)

	pacer := timectrl.NewTimeController(se.Now(), dt, timectrl.RealTime)
	pacer.AddListener(func(time.Time) { se.Step(ctx, dt) })

	var duration time.Duration
	if ticks > 0 {
		duration = time.Duration(ticks) * dt
	}
	stop := make(chan struct{})
	done := pacer.Start(duration, stop)

	select {
	case <-done:
		log.Info(ctx, "simulation finished",
			logging.Uint64("tick", se.tick),
			logging.Time("sim_time", se.Now()),
		)
		return nil
	case <-ctx.Done():
		close(stop)
		<-done
		log.Info(ctx, "simulation stopped", logging.Uint64("tick", se.tick), logging.Err(ctx.Err()))
		return ctx.Err()
	}
}

// ResetWorld empties the grid and the telegram queue, then re-inserts every
// registered agent at its current position.
func (se *SimulationEngine) ResetWorld() {
	se.Grid.Clear()
	se.Dispatcher.Clear()
	clear(se.lastPos)
	se.syncGrid()
}
