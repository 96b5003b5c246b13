package model

// Vehicle is an embeddable base for moving agents. It implements Steerable
// and carries the default Euler motion integrator used by the demo hosts.
//
// Fields are exported so scenario loaders and tests can build vehicles
// directly; callers that mutate Pos must keep any spatial index in sync.
type Vehicle struct {
	EntityID EntityID
	Pos      Vec2
	Vel      Vec2
	Head     Vec2
	Radius   float64

	MaxSpeedV float64
	MaxForceV float64
	MassV     float64
}

// VehicleParams are the kinematic limits for NewVehicle.
type VehicleParams struct {
	Radius   float64
	MaxSpeed float64
	MaxForce float64
	Mass     float64
}

// DefaultVehicleParams mirrors the stock vehicle tuning.
func DefaultVehicleParams() VehicleParams {
	return VehicleParams{
		Radius:   10,
		MaxSpeed: 150,
		MaxForce: 100,
		Mass:     1,
	}
}

// NewVehicle builds a vehicle at pos facing +X with a freshly allocated ID.
func NewVehicle(pos Vec2, p VehicleParams) *Vehicle {
	if p.Mass <= 0 {
		p.Mass = 1
	}
	return &Vehicle{
		EntityID:  NextID(),
		Pos:       pos,
		Head:      Vec2{X: 1},
		Radius:    p.Radius,
		MaxSpeedV: p.MaxSpeed,
		MaxForceV: p.MaxForce,
		MassV:     p.Mass,
	}
}

func (v *Vehicle) ID() EntityID            { return v.EntityID }
func (v *Vehicle) Position() Vec2          { return v.Pos }
func (v *Vehicle) Velocity() Vec2          { return v.Vel }
func (v *Vehicle) Heading() Vec2           { return v.Head }
func (v *Vehicle) BoundingRadius() float64 { return v.Radius }
func (v *Vehicle) MaxSpeed() float64       { return v.MaxSpeedV }
func (v *Vehicle) MaxForce() float64       { return v.MaxForceV }
func (v *Vehicle) Mass() float64           { return v.MassV }

// Side returns the vector perpendicular to the heading.
func (v *Vehicle) Side() Vec2 { return v.Head.Perp() }

// minHeadingSpeedSq is the squared speed below which heading is frozen.
const minHeadingSpeedSq = 1e-8

// Integrate applies force for dt seconds: acceleration = force/mass,
// velocity is clamped to MaxSpeed and the position advanced. Heading
// follows velocity only while the vehicle is actually moving.
func (v *Vehicle) Integrate(force Vec2, dt float64) {
	mass := v.MassV
	if mass <= 0 {
		mass = 1
	}
	accel := force.Scale(1 / mass)
	v.Vel = v.Vel.Add(accel.Scale(dt)).Truncate(v.MaxSpeedV)
	v.Pos = v.Pos.Add(v.Vel.Scale(dt))

	if v.Vel.LenSq() > minHeadingSpeedSq {
		v.Head = v.Vel.Normalize()
	}
}
