package steering

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/agentsim/model"
)

// ErrMissingInput is returned by Inputs.Validate when an enabled behaviour
// lacks the data it needs.
var ErrMissingInput = errors.New("missing steering input")

// Inputs carries the per-tick data the enabled behaviours read. Only the
// fields required by the enabled set need to be filled; a nil slice means
// "not supplied", an empty one means "supplied, nothing there".
type Inputs struct {
	// Target is the point for Seek, Flee and Arrive.
	Target *model.Vec2
	// TargetA is the evader for Pursuit, the pursuer for Evade, the hunter
	// for Hide, the leader for OffsetPursuit and the first agent for Interpose.
	TargetA model.Agent
	// TargetB is the second agent for Interpose.
	TargetB model.Agent
	Path    *model.Path
	// Offset is the leader-local offset for OffsetPursuit.
	Offset model.Vec2

	Obstacles []model.Body
	Walls     []model.Wall
	Neighbors []model.Agent
}

// TargetPoint is a convenience for Inputs.Target.
func TargetPoint(p model.Vec2) *model.Vec2 { return &p }

// Missing returns the behaviours in flags whose inputs are absent.
func (in Inputs) Missing(flags Behavior) Behavior {
	var out Behavior
	flags.Each(func(b Behavior) {
		if !in.has(b) {
			out |= b
		}
	})
	return out
}

// Validate returns ErrMissingInput naming every behaviour in flags whose
// inputs are absent.
func (in Inputs) Validate(flags Behavior) error {
	if m := in.Missing(flags); m != None {
		return fmt.Errorf("%w: %s", ErrMissingInput, m)
	}
	return nil
}

func (in Inputs) has(b Behavior) bool {
	switch b {
	case ObstacleAvoidance:
		return in.Obstacles != nil
	case WallAvoidance:
		return in.Walls != nil
	case Seek, Flee, Arrive:
		return in.Target != nil
	case Wander:
		return true
	case Pursuit, Evade, Hide, OffsetPursuit:
		return in.TargetA != nil
	case Interpose:
		return in.TargetA != nil && in.TargetB != nil
	case FollowPath:
		return in.Path.Len() > 0
	case Separation, Alignment, Cohesion:
		return in.Neighbors != nil
	}
	return false
}
