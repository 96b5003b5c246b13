package model

// Wall is a line segment obstacle with an outward-facing unit normal.
type Wall struct {
	From   Vec2
	To     Vec2
	Normal Vec2
}

// NewWall builds a wall from a to b whose normal is the left-hand normal
// of the a->b direction.
func NewWall(from, to Vec2) Wall {
	return Wall{From: from, To: to, Normal: to.Sub(from).Normalize().Perp()}
}

// NewWallWithNormal builds a wall with an explicit normal; the normal is
// normalized.
func NewWallWithNormal(from, to, normal Vec2) Wall {
	return Wall{From: from, To: to, Normal: normal.Normalize()}
}

// Center returns the midpoint of the wall.
func (w Wall) Center() Vec2 {
	return w.From.Add(w.To).Scale(0.5)
}

// BoxWalls returns the four walls of an axis-aligned box, normals pointing
// inward so agents inside are pushed away from the edges.
func BoxWalls(min, max Vec2) []Wall {
	tl := Vec2{X: min.X, Y: min.Y}
	tr := Vec2{X: max.X, Y: min.Y}
	br := Vec2{X: max.X, Y: max.Y}
	bl := Vec2{X: min.X, Y: max.Y}
	return []Wall{
		NewWallWithNormal(tl, tr, Vec2{Y: 1}),
		NewWallWithNormal(tr, br, Vec2{X: -1}),
		NewWallWithNormal(br, bl, Vec2{Y: -1}),
		NewWallWithNormal(bl, tl, Vec2{X: 1}),
	}
}
