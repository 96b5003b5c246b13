package flock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/internal/config"
	"github.com/signalsfoundry/agentsim/internal/observability"
	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/steering"
)

const pond = `
name: pond
seed: 11
world:
  width: 1000
  height: 1000
  box_walls: true
obstacles:
  - pos: [500, 500]
    radius: 40
paths:
  patrol:
    loop: true
    waypoints: [[150, 150], [850, 150], [850, 850], [150, 850]]
vehicles:
  - name: boids
    count: 12
    spread: 80
    pos: [300, 300]
    vel: [20, 0]
    behaviors: [separation, alignment, cohesion, wander, obstacle_avoidance, wall_avoidance, evade]
    target_agent: shark
  - name: shark
    pos: [700, 700]
    max_speed: 120
    behaviors: [pursuit, obstacle_avoidance, wall_avoidance]
    target_agent: boids
  - name: guard
    pos: [150, 150]
    behaviors: [follow_path]
    path: patrol
`

func buildPond(t *testing.T, opts Options) (*core.SimulationEngine, *Flock) {
	t.Helper()
	sc, err := core.LoadScenario(strings.NewReader(pond))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	se, err := core.NewSimulationEngine(sc.World)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	f, err := Build(se, sc, config.Default(), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return se, f
}

func TestBuildResolvesGroups(t *testing.T) {
	se, f := buildPond(t, Options{})

	if len(f.Boids) != 14 || se.Registry.Len() != 14 || se.Grid.Len() != 14 {
		t.Fatalf("boids=%d registry=%d grid=%d", len(f.Boids), se.Registry.Len(), se.Grid.Len())
	}
	if len(f.Group("boids")) != 12 {
		t.Fatalf("boids group = %d", len(f.Group("boids")))
	}

	shark := f.Group("shark")[0]
	if shark.MaxSpeed() != 120 || shark.MaxForce() != config.Default().Vehicle.MaxForce {
		t.Fatalf("shark limits = %v/%v", shark.MaxSpeed(), shark.MaxForce())
	}
	in := shark.SteeringInputs()
	if in.TargetA == nil {
		t.Fatal("shark has no prey")
	}
	for _, b := range f.Group("boids") {
		if b.Pos.DistanceSqTo(shark.Pos) < in.TargetA.Position().DistanceSqTo(shark.Pos) {
			t.Fatalf("shark targets %d but %d is nearer", in.TargetA.ID(), b.ID())
		}
	}

	guard := f.Group("guard")[0]
	if guard.Path() == nil || guard.Path().Len() != 4 {
		t.Fatalf("guard path = %+v", guard.Path())
	}
	if f.Group("boids")[0].Path() != nil {
		t.Fatal("boid without a path got one")
	}
	if got := f.Group("boids")[0].StateName(); !strings.Contains(got, "cohesion") {
		t.Fatalf("StateName = %q", got)
	}
}

func TestPondRunsWithinLimits(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	se, f := buildPond(t, Options{Metrics: metrics})
	start := make(map[model.EntityID]model.Vec2, len(f.Boids))
	for _, b := range f.Boids {
		start[b.ID()] = b.Pos
	}

	if err := se.Run(context.Background(), 300, 20*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, b := range f.Boids {
		if !b.Pos.IsFinite() || !b.Vel.IsFinite() {
			t.Fatalf("boid %d diverged: pos=%v vel=%v", b.ID(), b.Pos, b.Vel)
		}
		if b.Vel.Len() > b.MaxSpeed()*(1+1e-9) {
			t.Fatalf("boid %d speed %v exceeds %v", b.ID(), b.Vel.Len(), b.MaxSpeed())
		}
		if b.Pos == start[b.ID()] {
			t.Fatalf("boid %d never moved", b.ID())
		}
		if m := b.Steering().Missing(); m != steering.None {
			t.Fatalf("boid %d missing inputs: %s", b.ID(), m)
		}
	}
	if got := testutil.ToFloat64(metrics.SteeringMissing.WithLabelValues("seek")); got != 0 {
		t.Fatalf("missing-input counter = %v", got)
	}
	if guard := f.Group("guard")[0]; guard.Path().CurrentIndex() == 0 {
		t.Fatal("guard never reached its first waypoint")
	}
}

func TestPondIsDeterministic(t *testing.T) {
	run := func() []model.Vec2 {
		se, f := buildPond(t, Options{})
		if err := se.Run(context.Background(), 100, 20*time.Millisecond); err != nil {
			t.Fatalf("Run: %v", err)
		}
		out := make([]model.Vec2, len(f.Boids))
		for i, b := range f.Boids {
			out[i] = b.Pos
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("boid %d diverged between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRemovedPreyIsNotTargeted(t *testing.T) {
	se, f := buildPond(t, Options{})
	shark := f.Group("shark")[0]
	first := shark.SteeringInputs().TargetA
	if err := se.Remove(first.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if next := shark.SteeringInputs().TargetA; next == nil || next.ID() == first.ID() {
		t.Fatalf("shark still targets removed prey")
	}
}

func TestWrapKeepsBoidsInsideWorld(t *testing.T) {
	sc := &core.Scenario{
		World: core.WorldConfig{Width: 100, Height: 100, CellsX: 2, CellsY: 2},
		Vehicles: []core.VehicleSpec{{
			Name: "runner",
			Pos:  model.Vec2{X: 95, Y: 50},
			Vel:  model.Vec2{X: 10, Y: 0},
		}},
	}
	se, err := core.NewSimulationEngine(sc.World)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	f, err := Build(se, sc, config.Default(), Options{Wrap: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := se.Run(context.Background(), 10, 100*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := f.Boids[0].Pos
	if p.X < 0 || p.X >= 100 || p.X > 10 {
		t.Fatalf("runner at %v, want wrapped to about x=5", p)
	}
}

func TestBuildRejectsUnknownTargetGroup(t *testing.T) {
	sc := &core.Scenario{
		World:    core.WorldConfig{Width: 10, Height: 10, CellsX: 1, CellsY: 1},
		Vehicles: []core.VehicleSpec{{Name: "a", TargetAgent: "ghost"}},
	}
	se, _ := core.NewSimulationEngine(sc.World)
	if _, err := Build(se, sc, config.Default(), Options{}); err == nil {
		t.Fatal("expected error for unknown target group")
	}
}
