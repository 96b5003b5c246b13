// Package steering combines weighted steering behaviours into a single
// bounded force per agent per tick.
package steering

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/agentsim/model"
)

// MetricsRecorder receives composer counters.
type MetricsRecorder interface {
	SteeringClamped()
	SteeringMissingInput(b Behavior)
}

// Option configures a Composer.
type Option func(*Composer)

// WithParams replaces the behaviour constants.
func WithParams(p Params) Option {
	return func(c *Composer) { c.Params = p }
}

// WithWeights replaces the behaviour weights.
func WithWeights(w Weights) Option {
	return func(c *Composer) { c.Weights = w }
}

// WithSeed seeds the composer's private random source used by Wander.
func WithSeed(seed uint64) Option {
	return func(c *Composer) { c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRand sets the random source used by Wander.
func WithRand(r *rand.Rand) Option {
	return func(c *Composer) {
		if r != nil {
			c.rng = r
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Composer) { c.metrics = m }
}

// WithBehaviors sets the initial behaviour flags.
func WithBehaviors(b Behavior) Option {
	return func(c *Composer) { c.flags = b }
}

// Composer produces the steering force for one agent. It keeps only the
// behaviour flags, weights, constants and wander state; everything that
// changes per tick is passed to Calculate in Inputs.
//
// A Composer is not safe for concurrent use.
type Composer struct {
	Weights Weights
	Params  Params

	agent   model.Steerable
	flags   Behavior
	rng     *rand.Rand
	metrics MetricsRecorder

	wanderTarget model.Vec2
	missing      Behavior
}

// NewComposer returns a composer for agent with default weights and
// parameters and no behaviours enabled. Without WithSeed or WithRand the
// wander source is seeded from the agent ID.
func NewComposer(agent model.Steerable, opts ...Option) *Composer {
	c := &Composer{
		Weights: DefaultWeights(),
		Params:  DefaultParams(),
		agent:   agent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		seed := uint64(agent.ID())
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	theta := c.rng.Float64() * 2 * math.Pi
	c.wanderTarget = model.Vec2{X: math.Cos(theta), Y: math.Sin(theta)}.Scale(c.Params.WanderRadius)
	return c
}

// Agent returns the steered agent.
func (c *Composer) Agent() model.Steerable { return c.agent }

// On enables every behaviour in b.
func (c *Composer) On(b Behavior) { c.flags |= b }

// Off disables every behaviour in b.
func (c *Composer) Off(b Behavior) { c.flags &^= b }

// IsOn reports whether all behaviours in b are enabled.
func (c *Composer) IsOn(b Behavior) bool { return c.flags.Has(b) }

// AllOff disables every behaviour.
func (c *Composer) AllOff() { c.flags = None }

// Flags returns the enabled behaviour set.
func (c *Composer) Flags() Behavior { return c.flags }

// SetFlags replaces the enabled behaviour set with b.
func (c *Composer) SetFlags(b Behavior) { c.flags = b }

// Missing returns the enabled behaviours that lacked input on the last
// Calculate call.
func (c *Composer) Missing() Behavior { return c.missing }

// WanderTarget returns the current wander point on the wander circle,
// relative to the circle centre in agent-local space.
func (c *Composer) WanderTarget() model.Vec2 { return c.wanderTarget }

// Calculate sums the weighted forces of the enabled behaviours in their
// fixed order and truncates the result to the agent's max force. dt is the
// tick length in seconds. Behaviours whose inputs are absent contribute
// nothing and are reported through Missing. A non-finite sum yields zero.
func (c *Composer) Calculate(dt float64, in Inputs) model.Vec2 {
	c.missing = in.Missing(c.flags)
	if c.missing != None && c.metrics != nil {
		c.missing.Each(c.metrics.SteeringMissingInput)
	}

	var sum model.Vec2
	(c.flags &^ c.missing).Each(func(b Behavior) {
		f := c.force(b, dt, in)
		sum = sum.Add(f.Scale(c.Weights.Of(b)))
	})

	if !sum.IsFinite() {
		return model.Vec2{}
	}
	maxForce := c.agent.MaxForce()
	if sum.LenSq() > maxForce*maxForce {
		if c.metrics != nil {
			c.metrics.SteeringClamped()
		}
	}
	return sum.Truncate(maxForce)
}

func (c *Composer) force(b Behavior, dt float64, in Inputs) model.Vec2 {
	switch b {
	case ObstacleAvoidance:
		return c.ObstacleAvoidance(in.Obstacles)
	case WallAvoidance:
		return c.WallAvoidance(in.Walls)
	case Seek:
		return c.Seek(*in.Target)
	case Flee:
		return c.Flee(*in.Target)
	case Arrive:
		return c.Arrive(*in.Target, c.Params.ArriveDeceleration)
	case Wander:
		return c.Wander(dt)
	case Pursuit:
		return c.Pursuit(in.TargetA)
	case Evade:
		return c.Evade(in.TargetA)
	case Interpose:
		return c.Interpose(in.TargetA, in.TargetB)
	case Hide:
		return c.Hide(in.TargetA, in.Obstacles)
	case FollowPath:
		return c.FollowPath(in.Path)
	case OffsetPursuit:
		return c.OffsetPursuit(in.TargetA, in.Offset)
	case Separation:
		return c.Separation(in.Neighbors)
	case Alignment:
		return c.Alignment(in.Neighbors)
	case Cohesion:
		return c.Cohesion(in.Neighbors)
	}
	return model.Vec2{}
}

// heading returns the agent heading as a unit vector, falling back to +X.
func (c *Composer) heading() model.Vec2 {
	h := c.agent.Heading().Normalize()
	if h.IsZero() {
		return model.Vec2{X: 1}
	}
	return h
}
