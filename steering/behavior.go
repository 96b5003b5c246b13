package steering

import (
	"errors"
	"fmt"
	"strings"
)

// Behavior is a set of steering behaviour flags. Bits are declared in the
// order Calculate sums them.
type Behavior uint32

const (
	ObstacleAvoidance Behavior = 1 << iota
	WallAvoidance
	Seek
	Flee
	Arrive
	Wander
	Pursuit
	Evade
	Interpose
	Hide
	FollowPath
	OffsetPursuit
	Separation
	Alignment
	Cohesion

	None Behavior = 0
	// All has every behaviour enabled.
	All = Cohesion<<1 - 1
)

// GroupBehaviors need a neighbour list.
const GroupBehaviors = Separation | Alignment | Cohesion

var behaviorNames = [...]string{
	"obstacle_avoidance",
	"wall_avoidance",
	"seek",
	"flee",
	"arrive",
	"wander",
	"pursuit",
	"evade",
	"interpose",
	"hide",
	"follow_path",
	"offset_pursuit",
	"separation",
	"alignment",
	"cohesion",
}

// ErrUnknownBehavior is returned by ParseBehavior.
var ErrUnknownBehavior = errors.New("unknown steering behavior")

// Has reports whether every flag in o is set in b.
func (b Behavior) Has(o Behavior) bool { return b&o == o }

// Each calls fn for every set flag in summation order.
func (b Behavior) Each(fn func(Behavior)) {
	for i := range behaviorNames {
		f := Behavior(1) << i
		if b&f != 0 {
			fn(f)
		}
	}
}

func (b Behavior) String() string {
	if b == None {
		return "none"
	}
	var parts []string
	for i, name := range behaviorNames {
		if b&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := b &^ All; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseBehavior maps a behaviour name, as printed by String, to its flag.
// Matching ignores case, hyphens and underscores.
func ParseBehavior(name string) (Behavior, error) {
	norm := normalizeName(name)
	for i, n := range behaviorNames {
		if normalizeName(n) == norm {
			return 1 << i, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownBehavior, name)
}

// ParseBehaviors ORs together the flags for names.
func ParseBehaviors(names []string) (Behavior, error) {
	var out Behavior
	for _, n := range names {
		b, err := ParseBehavior(n)
		if err != nil {
			return None, err
		}
		out |= b
	}
	return out, nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}
