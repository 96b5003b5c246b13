package model

import "sync/atomic"

// EntityID is a stable identifier, unique for the lifetime of the process.
type EntityID int64

// NoEntity is the zero EntityID; it never names a live entity.
const NoEntity EntityID = 0

var lastID atomic.Int64

// NextID allocates a fresh EntityID. IDs start at 1 and are never reused.
func NextID() EntityID {
	return EntityID(lastID.Add(1))
}

// Body is anything with a position and a bounding circle (obstacles,
// agents).
type Body interface {
	Position() Vec2
	BoundingRadius() float64
}

// Agent is the minimal shape the core consumes from an application entity.
// Applications own agents; the core never creates or destroys them.
type Agent interface {
	Body
	ID() EntityID
	Velocity() Vec2
	// Heading is a unit vector. It stays meaningful when the agent is
	// stationary, so it is not derived from Velocity by the core.
	Heading() Vec2
}

// Steerable is an Agent with the kinematic limits steering needs.
type Steerable interface {
	Agent
	MaxSpeed() float64
	MaxForce() float64
	Mass() float64
}

// Obstacle is a static circular obstacle.
type Obstacle struct {
	Pos    Vec2
	Radius float64
}

// Position implements Body.
func (o Obstacle) Position() Vec2 { return o.Pos }

// BoundingRadius implements Body.
func (o Obstacle) BoundingRadius() float64 { return o.Radius }
