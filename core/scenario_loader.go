package core

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/steering"
)

// ErrInvalidScenario wraps every scenario decoding and validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

//go:embed scenario.schema.json
var scenarioSchemaJSON []byte

const scenarioSchemaURL = "scenario.schema.json"

var scenarioSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(scenarioSchemaURL, bytes.NewReader(scenarioSchemaJSON)); err != nil {
		panic(fmt.Sprintf("scenario schema: %v", err))
	}
	return c.MustCompile(scenarioSchemaURL)
}

// Scenario is a decoded, validated world description. Vehicle groups are
// expanded into one VehicleSpec per vehicle.
type Scenario struct {
	Name      string
	Seed      uint64
	World     WorldConfig
	Walls     []model.Wall
	Obstacles []model.Obstacle
	Vehicles  []VehicleSpec

	// cellsSet is true when the file gave cells_x or cells_y.
	cellsSet bool
}

// VehicleSpec describes one vehicle to create. Zero kinematic fields mean
// "use the host default".
type VehicleSpec struct {
	// Name is the group name; vehicles of a group share it.
	Name     string
	Index    int
	Pos      model.Vec2
	Vel      model.Vec2
	Radius   float64
	MaxSpeed float64
	MaxForce float64
	Mass     float64

	Behaviors steering.Behavior
	// Weights overrides default weights by behaviour flag.
	Weights map[steering.Behavior]float64

	Target       *model.Vec2
	TargetAgent  string
	TargetAgentB string
	Offset       model.Vec2
	Path         []model.Vec2
	PathLoop     bool
}

// WorldWithCells returns World with cellsX by cellsY buckets when the
// scenario file left the cell counts to the host. Non-positive counts keep
// the loader defaults.
func (s *Scenario) WorldWithCells(cellsX, cellsY int) WorldConfig {
	w := s.World
	if s.cellsSet || cellsX <= 0 || cellsY <= 0 {
		return w
	}
	w.CellsX, w.CellsY = cellsX, cellsY
	return w
}

// Bodies returns the scenario obstacles as steering bodies.
func (s *Scenario) Bodies() []model.Body {
	out := make([]model.Body, len(s.Obstacles))
	for i, o := range s.Obstacles {
		out[i] = o
	}
	return out
}

type vecYAML []float64

func (v vecYAML) vec() model.Vec2 {
	if len(v) < 2 {
		return model.Vec2{}
	}
	return model.Vec2{X: v[0], Y: v[1]}
}

type scenarioYAML struct {
	Name  string `yaml:"name"`
	Seed  uint64 `yaml:"seed"`
	World struct {
		Width    float64 `yaml:"width"`
		Height   float64 `yaml:"height"`
		CellsX   int     `yaml:"cells_x"`
		CellsY   int     `yaml:"cells_y"`
		BoxWalls bool    `yaml:"box_walls"`
	} `yaml:"world"`
	Walls []struct {
		From   vecYAML `yaml:"from"`
		To     vecYAML `yaml:"to"`
		Normal vecYAML `yaml:"normal"`
	} `yaml:"walls"`
	Obstacles []struct {
		Pos    vecYAML `yaml:"pos"`
		Radius float64 `yaml:"radius"`
	} `yaml:"obstacles"`
	Paths map[string]struct {
		Loop      bool      `yaml:"loop"`
		Waypoints []vecYAML `yaml:"waypoints"`
	} `yaml:"paths"`
	Vehicles []vehicleYAML `yaml:"vehicles"`
}

type vehicleYAML struct {
	Name         string             `yaml:"name"`
	Count        int                `yaml:"count"`
	Spread       float64            `yaml:"spread"`
	Pos          vecYAML            `yaml:"pos"`
	Vel          vecYAML            `yaml:"vel"`
	Radius       float64            `yaml:"radius"`
	MaxSpeed     float64            `yaml:"max_speed"`
	MaxForce     float64            `yaml:"max_force"`
	Mass         float64            `yaml:"mass"`
	Behaviors    []string           `yaml:"behaviors"`
	Weights      map[string]float64 `yaml:"weights"`
	Target       vecYAML            `yaml:"target"`
	TargetAgent  string             `yaml:"target_agent"`
	TargetAgentB string             `yaml:"target_agent_b"`
	Offset       vecYAML            `yaml:"offset"`
	Path         string             `yaml:"path"`
}

// LoadScenario reads a YAML scenario from r, validates it against the
// embedded JSON Schema and resolves names (behaviours, paths, target
// groups). Group members are scattered uniformly within Spread of Pos using
// the scenario seed, so loading is deterministic.
func LoadScenario(r io.Reader) (*Scenario, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrInvalidScenario, err)
	}

	// Validate the generic document first so schema errors point at the
	// offending field rather than at a Go type.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidScenario, err)
	}
	normalized, err := toJSONValue(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := scenarioSchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	var in scenarioYAML
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidScenario, err)
	}
	return convertScenario(&in)
}

// toJSONValue round-trips v through encoding/json so it has the shapes
// the schema validator expects (float64 numbers, string-keyed maps).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

func convertScenario(in *scenarioYAML) (*Scenario, error) {
	sc := &Scenario{
		Name: in.Name,
		Seed: in.Seed,
		World: WorldConfig{
			Width:  in.World.Width,
			Height: in.World.Height,
			CellsX: in.World.CellsX,
			CellsY: in.World.CellsY,
		},
		cellsSet: in.World.CellsX != 0 || in.World.CellsY != 0,
	}
	if sc.World.CellsX == 0 {
		sc.World.CellsX = defaultCells(sc.World.Width)
	}
	if sc.World.CellsY == 0 {
		sc.World.CellsY = defaultCells(sc.World.Height)
	}

	if in.World.BoxWalls {
		sc.Walls = append(sc.Walls, model.BoxWalls(model.Vec2{}, model.Vec2{X: sc.World.Width, Y: sc.World.Height})...)
	}
	for _, w := range in.Walls {
		if len(w.Normal) > 0 {
			sc.Walls = append(sc.Walls, model.NewWallWithNormal(w.From.vec(), w.To.vec(), w.Normal.vec()))
		} else {
			sc.Walls = append(sc.Walls, model.NewWall(w.From.vec(), w.To.vec()))
		}
	}
	for _, o := range in.Obstacles {
		sc.Obstacles = append(sc.Obstacles, model.Obstacle{Pos: o.Pos.vec(), Radius: o.Radius})
	}

	groups := make(map[string]bool, len(in.Vehicles))
	for _, v := range in.Vehicles {
		if groups[v.Name] {
			return nil, fmt.Errorf("%w: duplicate vehicle group %q", ErrInvalidScenario, v.Name)
		}
		groups[v.Name] = true
	}

	rng := rand.New(rand.NewPCG(in.Seed, in.Seed+1))
	for _, v := range in.Vehicles {
		behaviors, err := steering.ParseBehaviors(v.Behaviors)
		if err != nil {
			return nil, fmt.Errorf("%w: vehicle %q: %v", ErrInvalidScenario, v.Name, err)
		}
		weights := make(map[steering.Behavior]float64, len(v.Weights))
		for name, w := range v.Weights {
			b, err := steering.ParseBehavior(name)
			if err != nil {
				return nil, fmt.Errorf("%w: vehicle %q weights: %v", ErrInvalidScenario, v.Name, err)
			}
			weights[b] = w
		}
		for _, ref := range []string{v.TargetAgent, v.TargetAgentB} {
			if ref != "" && !groups[ref] {
				return nil, fmt.Errorf("%w: vehicle %q targets unknown group %q", ErrInvalidScenario, v.Name, ref)
			}
		}

		var path []model.Vec2
		var loop bool
		if v.Path != "" {
			p, ok := in.Paths[v.Path]
			if !ok {
				return nil, fmt.Errorf("%w: vehicle %q uses unknown path %q", ErrInvalidScenario, v.Name, v.Path)
			}
			for _, wp := range p.Waypoints {
				path = append(path, wp.vec())
			}
			loop = p.Loop
		}

		var target *model.Vec2
		if len(v.Target) > 0 {
			t := v.Target.vec()
			target = &t
		}

		count := v.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			pos := v.Pos.vec()
			if v.Spread > 0 && count > 1 {
				pos = pos.Add(scatter(rng, v.Spread))
			}
			sc.Vehicles = append(sc.Vehicles, VehicleSpec{
				Name:         v.Name,
				Index:        i,
				Pos:          pos,
				Vel:          v.Vel.vec(),
				Radius:       v.Radius,
				MaxSpeed:     v.MaxSpeed,
				MaxForce:     v.MaxForce,
				Mass:         v.Mass,
				Behaviors:    behaviors,
				Weights:      weights,
				Target:       target,
				TargetAgent:  v.TargetAgent,
				TargetAgentB: v.TargetAgentB,
				Offset:       v.Offset.vec(),
				Path:         path,
				PathLoop:     loop,
			})
		}
	}
	return sc, nil
}

// scatter returns a uniformly distributed point in a disc of radius r.
func scatter(rng *rand.Rand, r float64) model.Vec2 {
	theta := rng.Float64() * 2 * math.Pi
	d := r * math.Sqrt(rng.Float64())
	return model.Vec2{X: d * math.Cos(theta), Y: d * math.Sin(theta)}
}

// defaultCells picks roughly 100-unit buckets, at least one.
func defaultCells(extent float64) int {
	n := int(math.Ceil(extent / 100))
	if n < 1 {
		return 1
	}
	return n
}
