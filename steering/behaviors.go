package steering

import (
	"math"

	"github.com/signalsfoundry/agentsim/model"
)

// feelerAngle is the angle of the side wall feelers from the heading.
const feelerAngle = math.Pi / 4

// headOnThreshold is the relative heading below which a pursued agent is
// treated as coming straight at the pursuer.
const headOnThreshold = -0.95

// Seek returns the force steering the agent straight at target at full
// speed. A target on top of the agent yields zero.
func (c *Composer) Seek(target model.Vec2) model.Vec2 {
	dir := target.Sub(c.agent.Position()).Normalize()
	if dir.IsZero() {
		return model.Vec2{}
	}
	return dir.Scale(c.agent.MaxSpeed()).Sub(c.agent.Velocity())
}

// Flee returns the force steering the agent away from target, or zero when
// target is beyond the panic distance.
func (c *Composer) Flee(target model.Vec2) model.Vec2 {
	pos := c.agent.Position()
	panicDist := c.Params.PanicDistance
	if pos.DistanceSqTo(target) > panicDist*panicDist {
		return model.Vec2{}
	}
	dir := pos.Sub(target).Normalize()
	if dir.IsZero() {
		return model.Vec2{}
	}
	return dir.Scale(c.agent.MaxSpeed()).Sub(c.agent.Velocity())
}

// Arrive seeks target but slows down in proportion to the remaining
// distance, reaching zero speed on the target. NoDeceleration (or any
// non-positive tier) keeps the speed at MaxSpeed all the way in.
func (c *Composer) Arrive(target model.Vec2, decel Deceleration) model.Vec2 {
	toTarget := target.Sub(c.agent.Position())
	dist := toTarget.Len()
	if dist <= 0 || math.IsNaN(dist) {
		return model.Vec2{}
	}
	speed := c.agent.MaxSpeed()
	if decel > NoDeceleration {
		speed = math.Min(dist/(float64(decel)*c.Params.DecelerationTweak), speed)
	}
	desired := toTarget.Scale(speed / dist)
	return desired.Sub(c.agent.Velocity())
}

// Wander jitters a point on a circle projected ahead of the agent and
// steers toward it. dt scales the jitter so wander is tick-rate independent.
func (c *Composer) Wander(dt float64) model.Vec2 {
	p := c.Params
	jitter := p.WanderJitter * dt
	c.wanderTarget = c.wanderTarget.Add(model.Vec2{
		X: (c.rng.Float64()*2 - 1) * jitter,
		Y: (c.rng.Float64()*2 - 1) * jitter,
	})
	c.wanderTarget = c.wanderTarget.Normalize().Scale(p.WanderRadius)
	if c.wanderTarget.IsZero() {
		c.wanderTarget = model.Vec2{X: p.WanderRadius}
	}

	local := c.wanderTarget.Add(model.Vec2{X: p.WanderDistance})
	return model.ToWorldDir(local, c.heading())
}

// Pursuit seeks the predicted position of evader. When the evader is ahead
// and facing the agent it seeks the evader directly.
func (c *Composer) Pursuit(evader model.Agent) model.Vec2 {
	pos := c.agent.Position()
	toEvader := evader.Position().Sub(pos)
	heading := c.heading()
	relativeHeading := heading.Dot(evader.Heading())

	if toEvader.Dot(heading) > 0 && relativeHeading < headOnThreshold {
		return c.Seek(evader.Position())
	}

	lookAhead := c.lookAhead(toEvader.Len(), evader.Velocity().Len())
	return c.Seek(evader.Position().Add(evader.Velocity().Scale(lookAhead)))
}

// Evade flees the predicted position of pursuer.
func (c *Composer) Evade(pursuer model.Agent) model.Vec2 {
	toPursuer := pursuer.Position().Sub(c.agent.Position())
	lookAhead := c.lookAhead(toPursuer.Len(), pursuer.Velocity().Len())
	return c.Flee(pursuer.Position().Add(pursuer.Velocity().Scale(lookAhead)))
}

func (c *Composer) lookAhead(dist, otherSpeed float64) float64 {
	denom := c.agent.MaxSpeed() + otherSpeed
	if denom <= 0 {
		return 0
	}
	return dist / denom
}

// ObstacleAvoidance steers away from the closest obstacle intersecting a
// detection box projected ahead of the agent. The box grows with speed.
func (c *Composer) ObstacleAvoidance(obstacles []model.Body) model.Vec2 {
	p := c.Params
	pos := c.agent.Position()
	heading := c.heading()

	boxLength := p.DetectionLength
	if maxSpeed := c.agent.MaxSpeed(); maxSpeed > 0 {
		boxLength += c.agent.Velocity().Len() / maxSpeed * p.DetectionLength
	}
	if boxLength <= 0 {
		return model.Vec2{}
	}

	var (
		closest      model.Body
		closestDist  = math.MaxFloat64
		closestLocal model.Vec2
	)
	for _, obs := range obstacles {
		local := model.ToLocal(obs.Position(), pos, heading)
		r := obs.BoundingRadius()
		if local.X < 0 || local.X >= boxLength+r {
			continue
		}
		expanded := r + c.agent.BoundingRadius()
		if math.Abs(local.Y) >= expanded {
			continue
		}
		sqrtPart := math.Sqrt(expanded*expanded - local.Y*local.Y)
		ip := local.X - sqrtPart
		if ip <= 0 {
			ip = local.X + sqrtPart
		}
		if ip < closestDist {
			closestDist = ip
			closest = obs
			closestLocal = local
		}
	}
	if closest == nil {
		return model.Vec2{}
	}

	multiplier := 1 + (boxLength-closestLocal.X)/boxLength
	r := closest.BoundingRadius()
	force := model.Vec2{
		X: (r - closestLocal.X) * p.BrakingWeight,
		Y: (r - closestLocal.Y) * multiplier,
	}
	return model.ToWorldDir(force, heading)
}

// feelers returns the centre, left and right feeler tips in that order.
func (c *Composer) feelers() [3]model.Vec2 {
	pos := c.agent.Position()
	heading := c.heading()
	length := c.Params.DetectionLength
	return [3]model.Vec2{
		pos.Add(heading.Scale(length)),
		pos.Add(heading.Rotate(-feelerAngle).Scale(length / 2)),
		pos.Add(heading.Rotate(feelerAngle).Scale(length / 2)),
	}
}

// WallAvoidance casts three feelers against walls. The closest
// intersection over all feelers wins, ties going to the earlier feeler, and
// the agent is pushed along that wall's normal by the feeler's overshoot.
func (c *Composer) WallAvoidance(walls []model.Wall) model.Vec2 {
	pos := c.agent.Position()

	var (
		found       bool
		closestDist = math.MaxFloat64
		closestWall model.Wall
		closestIP   model.Vec2
		tip         model.Vec2
	)
	for _, feeler := range c.feelers() {
		for _, w := range walls {
			ip, ok := model.SegmentIntersection(pos, feeler, w.From, w.To)
			if !ok {
				continue
			}
			if d := pos.DistanceSqTo(ip); d < closestDist {
				found = true
				closestDist = d
				closestWall = w
				closestIP = ip
				tip = feeler
			}
		}
	}
	if !found {
		return model.Vec2{}
	}
	overshoot := tip.Sub(closestIP)
	return closestWall.Normal.Scale(overshoot.Len())
}

// Interpose arrives at the midpoint of where a and b will be by the time
// the agent could reach their current midpoint.
func (c *Composer) Interpose(a, b model.Agent) model.Vec2 {
	mid := a.Position().Add(b.Position()).Scale(0.5)
	var timeToMid float64
	if maxSpeed := c.agent.MaxSpeed(); maxSpeed > 0 {
		timeToMid = c.agent.Position().DistanceTo(mid) / maxSpeed
	}
	aFuture := a.Position().Add(a.Velocity().Scale(timeToMid))
	bFuture := b.Position().Add(b.Velocity().Scale(timeToMid))
	return c.Arrive(aFuture.Add(bFuture).Scale(0.5), NoDeceleration)
}

// HidingSpot returns the point behind obstacle obs as seen from hunter.
func (c *Composer) HidingSpot(obs model.Body, hunter model.Vec2) model.Vec2 {
	dist := obs.BoundingRadius() + c.Params.HideBoundaryDistance
	toObs := obs.Position().Sub(hunter).Normalize()
	return obs.Position().Add(toObs.Scale(dist))
}

// Hide arrives at the nearest hiding spot behind an obstacle, or evades the
// hunter when there are no obstacles.
func (c *Composer) Hide(hunter model.Agent, obstacles []model.Body) model.Vec2 {
	pos := c.agent.Position()
	best := math.MaxFloat64
	var spot model.Vec2
	found := false
	for _, obs := range obstacles {
		s := c.HidingSpot(obs, hunter.Position())
		if d := s.DistanceSqTo(pos); d < best {
			best = d
			spot = s
			found = true
		}
	}
	if !found {
		return c.Evade(hunter)
	}
	return c.Arrive(spot, NoDeceleration)
}

// FollowPath seeks the current waypoint, advancing once within the
// waypoint seek distance, and arrives at the last waypoint of a
// non-looping path.
func (c *Composer) FollowPath(path *model.Path) model.Vec2 {
	if path.Len() == 0 {
		return model.Vec2{}
	}
	decel := c.Params.ArriveDeceleration
	if path.Finished() {
		return c.Arrive(path.Current(), decel)
	}
	seekDist := c.Params.WaypointSeekDistance
	if c.agent.Position().DistanceSqTo(path.Current()) < seekDist*seekDist {
		path.Advance()
	}
	if path.Finished() {
		return c.Arrive(path.Current(), decel)
	}
	return c.Seek(path.Current())
}

// OffsetPursuit keeps the agent at offset in leader-local space, aiming
// for where that point will be.
func (c *Composer) OffsetPursuit(leader model.Agent, offset model.Vec2) model.Vec2 {
	lh := leader.Heading().Normalize()
	if lh.IsZero() {
		lh = model.Vec2{X: 1}
	}
	worldTarget := leader.Position().Add(model.ToWorldDir(offset, lh))
	toOffset := worldTarget.Sub(c.agent.Position())
	lookAhead := c.lookAhead(toOffset.Len(), leader.Velocity().Len())
	return c.Arrive(worldTarget.Add(leader.Velocity().Scale(lookAhead)), NoDeceleration)
}

// Separation pushes away from neighbours inside the separation radius,
// harder the closer they are.
func (c *Composer) Separation(neighbors []model.Agent) model.Vec2 {
	pos := c.agent.Position()
	self := c.agent.ID()
	r := c.Params.SeparationRadius
	var force model.Vec2
	for _, n := range neighbors {
		if n.ID() == self {
			continue
		}
		toAgent := pos.Sub(n.Position())
		dSq := toAgent.LenSq()
		if dSq == 0 || dSq >= r*r {
			continue
		}
		// normalized direction over distance
		force = force.Add(toAgent.Scale(1 / dSq))
	}
	return force
}

// Alignment steers toward the average heading of visible neighbours.
func (c *Composer) Alignment(neighbors []model.Agent) model.Vec2 {
	pos := c.agent.Position()
	self := c.agent.ID()
	view := c.Params.ViewDistance
	var avg model.Vec2
	count := 0
	for _, n := range neighbors {
		if n.ID() == self || pos.DistanceSqTo(n.Position()) >= view*view {
			continue
		}
		avg = avg.Add(n.Heading())
		count++
	}
	if count == 0 {
		return model.Vec2{}
	}
	return avg.Scale(1 / float64(count)).Sub(c.agent.Heading())
}

// Cohesion seeks the centre of mass of visible neighbours.
func (c *Composer) Cohesion(neighbors []model.Agent) model.Vec2 {
	pos := c.agent.Position()
	self := c.agent.ID()
	view := c.Params.ViewDistance
	var centre model.Vec2
	count := 0
	for _, n := range neighbors {
		if n.ID() == self || pos.DistanceSqTo(n.Position()) >= view*view {
			continue
		}
		centre = centre.Add(n.Position())
		count++
	}
	if count == 0 {
		return model.Vec2{}
	}
	return c.Seek(centre.Scale(1 / float64(count)))
}
