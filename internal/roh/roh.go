// Package roh implements the Risk-of-Harm shard.
//
// RoH is a scalar in [0,1] summarizing projected harm from a proposed
// behavior change. The global ceiling is fixed at 0.30 by policy — any
// model whose ceiling deviates, even fractionally, fails validation at
// construction and never reaches the orchestrator.
//
// Formula: RoH = clamp(w_energy*energy + w_thermal*thermal +
// w_cognitive*cognitive + w_inflammation*inflammation + w_eco*eco, 0, 1).
package roh

import (
	"fmt"

	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// Epsilon is the fixed tolerance used for all RoH-adjacent floating point
// comparisons: the machine epsilon of a 32-bit IEEE-754 float.
const Epsilon float32 = 1.0 / (1 << 23)

// Ceiling is the global RoH ceiling. It is a named constant, not just a
// magic literal, because every shard that carries a roh_ceiling field is
// validated against it.
const Ceiling float32 = 0.30

// weightSumTolerance is the slack allowed around Σw == 1.0.
const weightSumTolerance = 1e-4

// Weights holds the five non-negative weighting coefficients. Their sum
// must equal 1.0 within weightSumTolerance.
type Weights struct {
	EnergyLoad     float32 `yaml:"energy_load" json:"energy_load"`
	ThermalLoad    float32 `yaml:"thermal_load" json:"thermal_load"`
	CognitiveLoad  float32 `yaml:"cognitive_load" json:"cognitive_load"`
	Inflammation   float32 `yaml:"inflammation" json:"inflammation"`
	EcoImpact      float32 `yaml:"eco_impact" json:"eco_impact"`
}

// Inputs holds the normalized [0,1] physiological/environmental readings
// that feed the weighted sum. Field names mirror Weights.
type Inputs struct {
	EnergyLoad    float32 `json:"energy_load"`
	ThermalLoad   float32 `json:"thermal_load"`
	CognitiveLoad float32 `json:"cognitive_load"`
	Inflammation  float32 `json:"inflammation"`
	EcoImpact     float32 `json:"eco_impact"`
}

// Model is the declarative RoH model as loaded from a .rohmodel.yaml file.
type Model struct {
	ID         string  `yaml:"id" json:"id"`
	Weights    Weights `yaml:"weights" json:"weights"`
	RohCeiling float32 `yaml:"roh_ceiling" json:"roh_ceiling"`
}

// Shard wraps a Model. It is constructed once from an external artifact and
// is immutable for the life of the sovereignty core.
type Shard struct {
	model Model
}

// NewShard wraps model in a Shard without validating it — callers must call
// ValidateInvariants before trusting the shard, which
// sovereigntycore.New does as the first construction step.
func NewShard(model Model) *Shard {
	return &Shard{model: model}
}

// ComputeRoH returns clamp(Σ wᵢ·xᵢ, 0, 1) for the given inputs.
func (s *Shard) ComputeRoH(in Inputs) float32 {
	w := s.model.Weights
	r := w.EnergyLoad*in.EnergyLoad +
		w.ThermalLoad*in.ThermalLoad +
		w.CognitiveLoad*in.CognitiveLoad +
		w.Inflammation*in.Inflammation +
		w.EcoImpact*in.EcoImpact
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// RohCeiling returns the shard's configured ceiling (always 0.30 once
// validated).
func (s *Shard) RohCeiling() float32 {
	return s.model.RohCeiling
}

// ID returns the model's stable identifier.
func (s *Shard) ID() string {
	return s.model.ID
}

// ValidateInvariants enforces: ceiling == 0.30 exactly, every weight >= 0,
// and Σw == 1.0 within weightSumTolerance.
func (s *Shard) ValidateInvariants() error {
	if s.model.RohCeiling != Ceiling {
		return &sverr.PolicyInvariantViolation{
			Component: "roh.Shard",
			Reason:    fmt.Sprintf("roh_ceiling must be %.2f exactly, got %v", Ceiling, s.model.RohCeiling),
		}
	}

	w := s.model.Weights
	values := [5]float32{w.EnergyLoad, w.ThermalLoad, w.CognitiveLoad, w.Inflammation, w.EcoImpact}

	var sum float32
	for _, v := range values {
		if v < 0 {
			return &sverr.PolicyInvariantViolation{
				Component: "roh.Shard",
				Reason:    "RoH weights must be non-negative",
			}
		}
		sum += v
	}

	diff := sum - 1.0
	if diff < 0 {
		diff = -diff
	}
	if diff > weightSumTolerance {
		return &sverr.PolicyInvariantViolation{
			Component: "roh.Shard",
			Reason:    fmt.Sprintf("RoH weights must sum to 1.0, got %v", sum),
		}
	}
	return nil
}
