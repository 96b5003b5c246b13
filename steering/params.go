package steering

// Deceleration selects how gently Arrive slows down.
type Deceleration int

const (
	// NoDeceleration arrives at full speed; Interpose, Hide and
	// OffsetPursuit use it.
	NoDeceleration Deceleration = 0
	Fast           Deceleration = 1
	Normal         Deceleration = 2
	Slow           Deceleration = 3
)

// Params holds the tunable constants of the individual behaviours.
type Params struct {
	// Flee ignores targets farther than this.
	PanicDistance float64

	WanderRadius   float64
	WanderDistance float64
	// WanderJitter is the maximum random displacement per second.
	WanderJitter float64

	// DetectionLength is the minimum obstacle detection box length and the
	// length of the centre wall feeler.
	DetectionLength float64
	BrakingWeight   float64

	SeparationRadius float64
	// ViewDistance bounds the neighbours considered by alignment and cohesion.
	ViewDistance float64

	WaypointSeekDistance float64
	HideBoundaryDistance float64

	ArriveDeceleration Deceleration
	DecelerationTweak  float64
}

// DefaultParams returns the stock behaviour constants.
func DefaultParams() Params {
	return Params{
		PanicDistance:        100,
		WanderRadius:         30,
		WanderDistance:       50,
		WanderJitter:         40,
		DetectionLength:      100,
		BrakingWeight:        0.2,
		SeparationRadius:     50,
		ViewDistance:         100,
		WaypointSeekDistance: 20,
		HideBoundaryDistance: 30,
		ArriveDeceleration:   Normal,
		DecelerationTweak:    0.3,
	}
}

// Weights scale each behaviour's force before summation.
type Weights struct {
	ObstacleAvoidance float64
	WallAvoidance     float64
	Seek              float64
	Flee              float64
	Arrive            float64
	Wander            float64
	Pursuit           float64
	Evade             float64
	Interpose         float64
	Hide              float64
	FollowPath        float64
	OffsetPursuit     float64
	Separation        float64
	Alignment         float64
	Cohesion          float64
}

// DefaultWeights returns the stock weighting: avoidance dominates, flocks
// keep their spacing, everything else is 1.
func DefaultWeights() Weights {
	return Weights{
		ObstacleAvoidance: 10,
		WallAvoidance:     10,
		Seek:              1,
		Flee:              1,
		Arrive:            1,
		Wander:            1,
		Pursuit:           1,
		Evade:             1,
		Interpose:         1,
		Hide:              1,
		FollowPath:        1,
		OffsetPursuit:     1,
		Separation:        5,
		Alignment:         1,
		Cohesion:          2,
	}
}

// Of returns the weight of a single behaviour flag.
func (w Weights) Of(b Behavior) float64 {
	switch b {
	case ObstacleAvoidance:
		return w.ObstacleAvoidance
	case WallAvoidance:
		return w.WallAvoidance
	case Seek:
		return w.Seek
	case Flee:
		return w.Flee
	case Arrive:
		return w.Arrive
	case Wander:
		return w.Wander
	case Pursuit:
		return w.Pursuit
	case Evade:
		return w.Evade
	case Interpose:
		return w.Interpose
	case Hide:
		return w.Hide
	case FollowPath:
		return w.FollowPath
	case OffsetPursuit:
		return w.OffsetPursuit
	case Separation:
		return w.Separation
	case Alignment:
		return w.Alignment
	case Cohesion:
		return w.Cohesion
	}
	return 0
}

// Set assigns the weight of a single behaviour flag. Unknown or combined
// flags are ignored.
func (w *Weights) Set(b Behavior, v float64) {
	switch b {
	case ObstacleAvoidance:
		w.ObstacleAvoidance = v
	case WallAvoidance:
		w.WallAvoidance = v
	case Seek:
		w.Seek = v
	case Flee:
		w.Flee = v
	case Arrive:
		w.Arrive = v
	case Wander:
		w.Wander = v
	case Pursuit:
		w.Pursuit = v
	case Evade:
		w.Evade = v
	case Interpose:
		w.Interpose = v
	case Hide:
		w.Hide = v
	case FollowPath:
		w.FollowPath = v
	case OffsetPursuit:
		w.OffsetPursuit = v
	case Separation:
		w.Separation = v
	case Alignment:
		w.Alignment = v
	case Cohesion:
		w.Cohesion = v
	}
}
