// Package flock builds steering-driven vehicles from a scenario: flocks,
// predators, path followers and anything else the behaviour set can express.
package flock

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/internal/config"
	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/steering"
)

// Boid is one vehicle of a scenario group.
type Boid struct {
	model.Vehicle
	Group string

	comp *steering.Composer
	in   steering.Inputs

	// agents named by target_agent / target_agent_b; the nearest live
	// member is chosen each tick
	targetGroup  []*Boid
	targetGroupB []*Boid

	world *Flock
}

func (b *Boid) Steering() *steering.Composer { return b.comp }

// Path returns the boid's own copy of its scenario path, or nil.
func (b *Boid) Path() *model.Path { return b.in.Path }

// StateName reports the enabled behaviours, for observers.
func (b *Boid) StateName() string { return b.comp.Flags().String() }

// SteeringInputs resolves agent targets against the current positions.
// Neighbours are left for the engine to fill from the grid.
func (b *Boid) SteeringInputs() steering.Inputs {
	in := b.in
	if len(b.targetGroup) > 0 {
		if a := b.nearest(b.targetGroup); a != nil {
			in.TargetA = a
		}
	}
	if len(b.targetGroupB) > 0 {
		if a := b.nearest(b.targetGroupB); a != nil {
			in.TargetB = a
		}
	}
	return in
}

// ApplyForce integrates the force and wraps the position when the flock
// runs on a torus.
func (b *Boid) ApplyForce(force model.Vec2, dt float64) {
	b.Integrate(force, dt)
	if b.world.wrap {
		b.Pos.X = wrap(b.Pos.X, b.world.width)
		b.Pos.Y = wrap(b.Pos.Y, b.world.height)
	}
}

func (b *Boid) nearest(group []*Boid) model.Agent {
	var best *Boid
	bestSq := math.Inf(1)
	for _, o := range group {
		if o == b || !b.world.live(o) {
			continue
		}
		if d := b.Pos.DistanceSqTo(o.Pos); d < bestSq {
			best, bestSq = o, d
		}
	}
	if best == nil {
		return nil
	}
	return best
}

func wrap(v, extent float64) float64 {
	if extent <= 0 {
		return v
	}
	v = math.Mod(v, extent)
	if v < 0 {
		v += extent
	}
	return v
}

// Options configures Build.
type Options struct {
	Metrics steering.MetricsRecorder
	// Wrap makes the world toroidal instead of bounded by walls.
	Wrap bool
}

// Flock is the set of boids built from one scenario.
type Flock struct {
	Boids []*Boid

	engine  *core.SimulationEngine
	byGroup map[string][]*Boid
	wrap    bool
	width   float64
	height  float64
}

// Build creates one Boid per scenario vehicle and adds it to se. Zero
// kinematic fields in the scenario fall back to tune.
func Build(se *core.SimulationEngine, sc *core.Scenario, tune config.Tuning, opts Options) (*Flock, error) {
	weights, err := tune.SteeringWeights()
	if err != nil {
		return nil, err
	}
	params := tune.SteeringParams()

	f := &Flock{
		engine:  se,
		byGroup: make(map[string][]*Boid),
		wrap:    opts.Wrap,
		width:   sc.World.Width,
		height:  sc.World.Height,
	}
	bodies := sc.Bodies()

	for _, spec := range sc.Vehicles {
		b := &Boid{Group: spec.Name, world: f}
		b.Vehicle = *model.NewVehicle(spec.Pos, vehicleParams(tune.VehicleParams(), spec))
		b.EntityID = model.NextID()
		b.Vel = spec.Vel.Truncate(b.MaxSpeedV)
		if !b.Vel.IsZero() {
			b.Head = b.Vel.Normalize()
		}

		w := weights
		for flag, v := range spec.Weights {
			w.Set(flag, v)
		}
		copts := []steering.Option{
			steering.WithParams(params),
			steering.WithWeights(w),
			steering.WithSeed(sc.Seed ^ uint64(b.EntityID)),
			steering.WithBehaviors(spec.Behaviors),
		}
		if opts.Metrics != nil {
			copts = append(copts, steering.WithMetrics(opts.Metrics))
		}
		b.comp = steering.NewComposer(b, copts...)

		b.in = steering.Inputs{
			Target:    spec.Target,
			Offset:    spec.Offset,
			Obstacles: bodies,
			Walls:     sc.Walls,
		}
		if len(spec.Path) > 0 {
			b.in.Path = model.NewPath(spec.Path, spec.PathLoop)
		}

		f.Boids = append(f.Boids, b)
		f.byGroup[spec.Name] = append(f.byGroup[spec.Name], b)
	}

	for i, spec := range sc.Vehicles {
		b := f.Boids[i]
		if spec.TargetAgent != "" {
			if b.targetGroup = f.byGroup[spec.TargetAgent]; b.targetGroup == nil {
				return nil, fmt.Errorf("vehicle %q: unknown target group %q", spec.Name, spec.TargetAgent)
			}
		}
		if spec.TargetAgentB != "" {
			if b.targetGroupB = f.byGroup[spec.TargetAgentB]; b.targetGroupB == nil {
				return nil, fmt.Errorf("vehicle %q: unknown target group %q", spec.Name, spec.TargetAgentB)
			}
		}
	}

	for _, b := range f.Boids {
		if err := se.Add(b); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Group returns the boids of a scenario group in scenario order.
func (f *Flock) Group(name string) []*Boid { return f.byGroup[name] }

func (f *Flock) live(b *Boid) bool {
	_, ok := f.engine.Registry.Get(b.EntityID)
	return ok
}

func vehicleParams(base model.VehicleParams, spec core.VehicleSpec) model.VehicleParams {
	p := base
	if spec.Radius > 0 {
		p.Radius = spec.Radius
	}
	if spec.MaxSpeed > 0 {
		p.MaxSpeed = spec.MaxSpeed
	}
	if spec.MaxForce > 0 {
		p.MaxForce = spec.MaxForce
	}
	if spec.Mass > 0 {
		p.Mass = spec.Mass
	}
	return p
}
