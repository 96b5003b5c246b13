package model

import "math"

// Vec2 is a 2D vector in world units.
type Vec2 struct {
	X, Y float64
}

// Zero is the zero vector.
var Zero = Vec2{}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v * s.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{X: v.X * s, Y: v.Y * s} }

// Dot returns the dot product of two vectors.
func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }

// LenSq returns the squared Euclidean norm.
func (v Vec2) LenSq() float64 { return v.X*v.X + v.Y*v.Y }

// Len returns the Euclidean norm of the vector.
func (v Vec2) Len() float64 { return math.Sqrt(v.LenSq()) }

// DistanceTo returns the straight-line distance between two points.
func (v Vec2) DistanceTo(o Vec2) float64 { return v.Sub(o).Len() }

// DistanceSqTo returns the squared distance between two points.
func (v Vec2) DistanceSqTo(o Vec2) float64 { return v.Sub(o).LenSq() }

// IsZero reports whether both components are exactly zero.
func (v Vec2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// IsFinite reports whether neither component is NaN or infinite.
func (v Vec2) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Normalize returns the unit vector in the direction of v.
// The zero vector (and any vector whose length is not a usable divisor)
// normalizes to zero instead of producing NaN.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Y: v.Y / l}
}

// Perp returns v rotated 90° counter-clockwise.
func (v Vec2) Perp() Vec2 { return Vec2{X: -v.Y, Y: v.X} }

// Rotate returns v rotated by angle radians counter-clockwise.
func (v Vec2) Rotate(angle float64) Vec2 {
	sin, cos := math.Sincos(angle)
	return Vec2{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// Truncate limits v to maxLen while preserving direction. The returned
// vector's length never exceeds maxLen, even after rounding.
func (v Vec2) Truncate(maxLen float64) Vec2 {
	if maxLen <= 0 {
		return Vec2{}
	}
	l := v.Len()
	if l <= maxLen {
		return v
	}
	out := v.Scale(maxLen / l)
	for out.Len() > maxLen {
		out = out.Scale(math.Nextafter(1, 0))
	}
	return out
}

// ToLocal expresses world point p in the frame whose origin is origin and
// whose x axis is heading (unit length). The y axis is heading.Perp().
func ToLocal(p, origin, heading Vec2) Vec2 {
	d := p.Sub(origin)
	return Vec2{X: d.Dot(heading), Y: d.Dot(heading.Perp())}
}

// ToWorldDir rotates a local-space direction back into world space for the
// frame described by heading. No translation is applied.
func ToWorldDir(local, heading Vec2) Vec2 {
	return heading.Scale(local.X).Add(heading.Perp().Scale(local.Y))
}

// SegmentIntersection reports whether segments ab and cd intersect, and
// where. Parallel and collinear segments are treated as not intersecting.
func SegmentIntersection(a, b, c, d Vec2) (Vec2, bool) {
	r := b.Sub(a)
	s := d.Sub(c)
	denom := r.X*s.Y - r.Y*s.X
	if denom == 0 {
		return Vec2{}, false
	}
	ac := c.Sub(a)
	t := (ac.X*s.Y - ac.Y*s.X) / denom
	u := (ac.X*r.Y - ac.Y*r.X) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Vec2{}, false
	}
	return a.Add(r.Scale(t)), true
}
