// Package spatial implements a uniform-grid spatial partition for fast
// radius queries over moving agents.
package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/agentsim/model"
)

// ErrInvalidGrid is returned by NewGrid for non-positive dimensions.
var ErrInvalidGrid = errors.New("invalid grid dimensions")

// Entity is the minimal shape stored in a Grid.
type Entity interface {
	ID() model.EntityID
	Position() model.Vec2
}

// Stats counts bucket maintenance performed by UpdatePosition.
type Stats struct {
	// Moves counts updates that moved an entity between buckets.
	Moves uint64
	// NoOps counts updates that stayed within the same bucket.
	NoOps uint64
}

// Grid divides a width x height world into cellsX x cellsY buckets. An
// entity's bucket is the one containing its position clamped to the world
// extents, so entities outside the world live in the border buckets.
//
// The grid does not watch positions: callers report movement through
// UpdatePosition. A Grid is not safe for concurrent use.
type Grid[T Entity] struct {
	width, height  float64
	cellsX, cellsY int
	cellW, cellH   float64

	buckets [][]T
	count   int
	stats   Stats
}

// NewGrid returns an empty grid.
func NewGrid[T Entity](width, height float64, cellsX, cellsY int) (*Grid[T], error) {
	if !(width > 0) || !(height > 0) || cellsX <= 0 || cellsY <= 0 ||
		math.IsInf(width, 0) || math.IsInf(height, 0) {
		return nil, fmt.Errorf("%w: %gx%g world, %dx%d cells", ErrInvalidGrid, width, height, cellsX, cellsY)
	}
	return &Grid[T]{
		width:   width,
		height:  height,
		cellsX:  cellsX,
		cellsY:  cellsY,
		cellW:   width / float64(cellsX),
		cellH:   height / float64(cellsY),
		buckets: make([][]T, cellsX*cellsY),
	}, nil
}

// Size returns the world dimensions.
func (g *Grid[T]) Size() (width, height float64) { return g.width, g.height }

// Cells returns the bucket counts along each axis.
func (g *Grid[T]) Cells() (x, y int) { return g.cellsX, g.cellsY }

// Len returns the number of entities in the grid.
func (g *Grid[T]) Len() int { return g.count }

// Stats returns the UpdatePosition counters.
func (g *Grid[T]) Stats() Stats { return g.stats }

// BucketOf returns the bucket index for position p.
func (g *Grid[T]) BucketOf(p model.Vec2) int {
	x := cellIndex(p.X, g.cellW, g.cellsX)
	y := cellIndex(p.Y, g.cellH, g.cellsY)
	return y*g.cellsX + x
}

// cellIndex floors v/size and clamps it into [0, n).
func cellIndex(v, size float64, n int) int {
	f := math.Floor(v / size)
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f >= float64(n):
		return n - 1
	default:
		return int(f)
	}
}

// Insert adds e to the bucket of its current position.
func (g *Grid[T]) Insert(e T) {
	idx := g.BucketOf(e.Position())
	g.buckets[idx] = append(g.buckets[idx], e)
	g.count++
}

// UpdatePosition moves e from the bucket of oldPos to the bucket of its
// current position. It does nothing when both fall in the same bucket.
// It reports false, leaving the grid unchanged, when a move is needed but e
// is in no bucket; callers Insert such entities instead.
func (g *Grid[T]) UpdatePosition(e T, oldPos model.Vec2) bool {
	from := g.BucketOf(oldPos)
	to := g.BucketOf(e.Position())
	if from == to {
		g.stats.NoOps++
		return true
	}
	if !g.removeFrom(from, e.ID()) && !g.removeAnywhere(e.ID()) {
		return false
	}
	g.buckets[to] = append(g.buckets[to], e)
	g.stats.Moves++
	return true
}

// Remove deletes e, looked up by ID, from the bucket of pos. It reports
// whether e was found.
func (g *Grid[T]) Remove(e T, pos model.Vec2) bool {
	if g.removeFrom(g.BucketOf(pos), e.ID()) {
		g.count--
		return true
	}
	if g.removeAnywhere(e.ID()) {
		g.count--
		return true
	}
	return false
}

func (g *Grid[T]) removeFrom(idx int, id model.EntityID) bool {
	b := g.buckets[idx]
	for i := range b {
		if b[i].ID() != id {
			continue
		}
		last := len(b) - 1
		b[i] = b[last]
		var zero T
		b[last] = zero
		g.buckets[idx] = b[:last]
		return true
	}
	return false
}

func (g *Grid[T]) removeAnywhere(id model.EntityID) bool {
	for idx := range g.buckets {
		if g.removeFrom(idx, id) {
			return true
		}
	}
	return false
}

// Query returns every entity strictly closer than radius to p.
func (g *Grid[T]) Query(p model.Vec2, radius float64) []T {
	return g.QueryInto(nil, p, radius)
}

// QueryInto appends to dst every entity strictly closer than radius to p
// and returns the extended slice. Passing dst[:0] reuses its storage.
func (g *Grid[T]) QueryInto(dst []T, p model.Vec2, radius float64) []T {
	if !(radius > 0) {
		return dst
	}
	x0 := cellIndex(p.X-radius, g.cellW, g.cellsX)
	x1 := cellIndex(p.X+radius, g.cellW, g.cellsX)
	y0 := cellIndex(p.Y-radius, g.cellH, g.cellsY)
	y1 := cellIndex(p.Y+radius, g.cellH, g.cellsY)
	r2 := radius * radius

	for y := y0; y <= y1; y++ {
		row := y * g.cellsX
		for x := x0; x <= x1; x++ {
			for _, e := range g.buckets[row+x] {
				if e.Position().DistanceSqTo(p) < r2 {
					dst = append(dst, e)
				}
			}
		}
	}
	return dst
}

// Each calls fn for every entity in bucket order.
func (g *Grid[T]) Each(fn func(T)) {
	for _, b := range g.buckets {
		for _, e := range b {
			fn(e)
		}
	}
}

// Clear empties every bucket, keeping their storage for reuse.
func (g *Grid[T]) Clear() {
	var zero T
	for i, b := range g.buckets {
		for j := range b {
			b[j] = zero
		}
		g.buckets[i] = b[:0]
	}
	g.count = 0
}
