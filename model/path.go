package model

// Path is an ordered waypoint sequence with a cursor. A Path is owned by a
// single agent: FollowPath advances the cursor in place.
type Path struct {
	Waypoints []Vec2
	Loop      bool

	current int
}

// NewPath builds a path over a copy of points.
func NewPath(points []Vec2, loop bool) *Path {
	wp := make([]Vec2, len(points))
	copy(wp, points)
	return &Path{Waypoints: wp, Loop: loop}
}

// Len returns the number of waypoints.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Waypoints)
}

// Current returns the waypoint under the cursor, or the zero vector for an
// empty path.
func (p *Path) Current() Vec2 {
	if p.Len() == 0 {
		return Vec2{}
	}
	return p.Waypoints[p.current]
}

// CurrentIndex returns the cursor position.
func (p *Path) CurrentIndex() int { return p.current }

// Finished reports whether a non-looping path is on its last waypoint.
// Looping paths never finish.
func (p *Path) Finished() bool {
	return !p.Loop && p.current >= len(p.Waypoints)-1
}

// Advance moves the cursor to the next waypoint, wrapping for looping paths
// and stopping at the last waypoint otherwise.
func (p *Path) Advance() {
	n := len(p.Waypoints)
	if n == 0 {
		return
	}
	if p.Loop {
		p.current = (p.current + 1) % n
		return
	}
	if p.current < n-1 {
		p.current++
	}
}

// Reset moves the cursor back to the first waypoint.
func (p *Path) Reset() { p.current = 0 }
