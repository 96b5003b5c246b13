// Package config loads simulation tuning from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/steering"
)

// ErrInvalidTuning is returned when a tuning file decodes but holds
// unusable values.
var ErrInvalidTuning = errors.New("invalid tuning")

type Tuning struct {
	TickRateHz int    `yaml:"tick_rate_hz"`
	Seed       uint64 `yaml:"seed"`

	// NeighborRadius is the grid query radius used to fill neighbour lists
	// for group behaviours.
	NeighborRadius float64 `yaml:"neighbor_radius"`

	Grid     GridTuning     `yaml:"grid"`
	Vehicle  VehicleTuning  `yaml:"vehicle"`
	Steering SteeringTuning `yaml:"steering"`
	Trace    TraceTuning    `yaml:"trace"`
	Observer ObserverTuning `yaml:"observer"`
}

// GridTuning sets the bucket counts for scenarios that leave them unset.
type GridTuning struct {
	CellsX int `yaml:"cells_x"`
	CellsY int `yaml:"cells_y"`
}

type VehicleTuning struct {
	Radius   float64 `yaml:"radius"`
	MaxSpeed float64 `yaml:"max_speed"`
	MaxForce float64 `yaml:"max_force"`
	Mass     float64 `yaml:"mass"`
}

type SteeringTuning struct {
	PanicDistance        float64 `yaml:"panic_distance"`
	WanderRadius         float64 `yaml:"wander_radius"`
	WanderDistance       float64 `yaml:"wander_distance"`
	WanderJitter         float64 `yaml:"wander_jitter"`
	DetectionLength      float64 `yaml:"detection_length"`
	SeparationRadius     float64 `yaml:"separation_radius"`
	ViewDistance         float64 `yaml:"view_distance"`
	WaypointSeekDistance float64 `yaml:"waypoint_seek_distance"`
	HideBoundaryDistance float64 `yaml:"hide_boundary_distance"`

	// Weights overrides default behaviour weights by behaviour name.
	Weights map[string]float64 `yaml:"weights"`
}

type TraceTuning struct {
	// SegmentTicks is how many ticks go into one trace file before rotation.
	SegmentTicks int `yaml:"segment_ticks"`
}

type ObserverTuning struct {
	BroadcastEveryTicks int `yaml:"broadcast_every_ticks"`
}

// Default returns the stock tuning.
func Default() Tuning {
	p := steering.DefaultParams()
	v := model.DefaultVehicleParams()
	return Tuning{
		TickRateHz:     60,
		Seed:           1,
		NeighborRadius: 100,
		Grid: GridTuning{
			CellsX: 10,
			CellsY: 10,
		},
		Vehicle: VehicleTuning{
			Radius:   v.Radius,
			MaxSpeed: v.MaxSpeed,
			MaxForce: v.MaxForce,
			Mass:     v.Mass,
		},
		Steering: SteeringTuning{
			PanicDistance:        p.PanicDistance,
			WanderRadius:         p.WanderRadius,
			WanderDistance:       p.WanderDistance,
			WanderJitter:         p.WanderJitter,
			DetectionLength:      p.DetectionLength,
			SeparationRadius:     p.SeparationRadius,
			ViewDistance:         p.ViewDistance,
			WaypointSeekDistance: p.WaypointSeekDistance,
			HideBoundaryDistance: p.HideBoundaryDistance,
		},
		Trace:    TraceTuning{SegmentTicks: 3600},
		Observer: ObserverTuning{BroadcastEveryTicks: 1},
	}
}

// Load reads a tuning file. Fields absent from the file keep their
// Default values.
func Load(path string) (Tuning, error) {
	t := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks the values the engine cannot run without.
func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("%w: tick_rate_hz must be positive", ErrInvalidTuning)
	case t.Grid.CellsX <= 0 || t.Grid.CellsY <= 0:
		return fmt.Errorf("%w: grid cells must be positive", ErrInvalidTuning)
	case t.Vehicle.MaxSpeed < 0 || t.Vehicle.MaxForce < 0 || t.Vehicle.Mass <= 0:
		return fmt.Errorf("%w: vehicle limits out of range", ErrInvalidTuning)
	}
	if _, err := t.SteeringWeights(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTuning, err)
	}
	return nil
}

// TickDuration returns the simulation step for TickRateHz.
func (t Tuning) TickDuration() time.Duration {
	if t.TickRateHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(t.TickRateHz)
}

// SteeringParams converts the steering section to steering.Params.
func (t Tuning) SteeringParams() steering.Params {
	p := steering.DefaultParams()
	s := t.Steering
	p.PanicDistance = s.PanicDistance
	p.WanderRadius = s.WanderRadius
	p.WanderDistance = s.WanderDistance
	p.WanderJitter = s.WanderJitter
	p.DetectionLength = s.DetectionLength
	p.SeparationRadius = s.SeparationRadius
	p.ViewDistance = s.ViewDistance
	p.WaypointSeekDistance = s.WaypointSeekDistance
	p.HideBoundaryDistance = s.HideBoundaryDistance
	return p
}

// SteeringWeights applies the weight overrides to the default weights.
func (t Tuning) SteeringWeights() (steering.Weights, error) {
	w := steering.DefaultWeights()
	for name, v := range t.Steering.Weights {
		b, err := steering.ParseBehavior(name)
		if err != nil {
			return w, err
		}
		w.Set(b, v)
	}
	return w, nil
}

// VehicleParams converts the vehicle section to model.VehicleParams.
func (t Tuning) VehicleParams() model.VehicleParams {
	return model.VehicleParams{
		Radius:   t.Vehicle.Radius,
		MaxSpeed: t.Vehicle.MaxSpeed,
		MaxForce: t.Vehicle.MaxForce,
		Mass:     t.Vehicle.Mass,
	}
}
