// Package viability implements the Tsafe 7-dimensional viability kernel:
// a polytope {x ∈ R^7 | A·x <= b} that any swarm state must lie within
// before an action is allowed to reach the subject.
//
// When the current state falls outside the kernel, SafeFilter does not
// simply refuse — it returns a conservative projection that keeps
// observable state (cumulative load, cognitive load, legal complexity)
// but zeroes every actuation channel (intensity, duty cycle, implant
// power, neuromod amplitude). This is the last analytical barrier before
// a change reaches the subject, so its failure mode must always be safe,
// never absent.
package viability

import (
	"fmt"

	"github.com/hexen-unified/sovereigntycore/internal/roh"
	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// Dimensions is the fixed width of the polytope's state space.
const Dimensions = 7

// SwarmState7D is the ordered 7-vector the kernel evaluates membership
// against. Field order fixes the column order of the kernel's A matrix.
type SwarmState7D struct {
	Intensity        float32 `json:"intensity"`
	DutyCycle        float32 `json:"duty_cycle"`
	CumulativeLoad   float32 `json:"cumulative_load"`
	ImplantPower     float32 `json:"implant_power"`
	NeuromodAmp      float32 `json:"neuromod_amp"`
	CognitiveLoad    float32 `json:"cognitive_load"`
	LegalComplexity  float32 `json:"legal_complexity"`
}

// vector returns the state as a fixed-size array in the canonical column
// order used by the kernel's A matrix.
func (s SwarmState7D) vector() [Dimensions]float32 {
	return [Dimensions]float32{
		s.Intensity,
		s.DutyCycle,
		s.CumulativeLoad,
		s.ImplantPower,
		s.NeuromodAmp,
		s.CognitiveLoad,
		s.LegalComplexity,
	}
}

// LifeforceState holds the four normalized [0,1] lifeforce readings used
// as a secondary gate ahead of the polytope membership check.
type LifeforceState struct {
	Cy        float32 `json:"cy"`
	Zen       float32 `json:"zen"`
	Chi       float32 `json:"chi"`
	Integrity float32 `json:"integrity"`
}

// Kernel is the 7D polytope {x | A·x <= b}, plus the lifeforce gate.
type Kernel struct {
	ModeID       string      `yaml:"mode_id" json:"mode_id"`
	A            [][]float32 `yaml:"a" json:"a"`
	B            []float32   `yaml:"b" json:"b"`
	MinIntegrity float32     `yaml:"min_integrity" json:"min_integrity"`
	MinChi       float32     `yaml:"min_chi" json:"min_chi"`
}

// Validate enforces the load-time invariants: every row of A has width
// Dimensions, len(b) == rows(A), and both lifeforce minimums lie in [0,1].
func (k *Kernel) Validate() error {
	if len(k.A) != len(k.B) {
		return &sverr.PolicyInvariantViolation{
			Component: "viability.Kernel",
			Reason:    fmt.Sprintf("len(A)=%d rows but len(b)=%d", len(k.A), len(k.B)),
		}
	}
	for i, row := range k.A {
		if len(row) != Dimensions {
			return &sverr.PolicyInvariantViolation{
				Component: "viability.Kernel",
				Reason:    fmt.Sprintf("row %d has width %d, want %d", i, len(row), Dimensions),
			}
		}
	}
	if k.MinIntegrity < 0 || k.MinIntegrity > 1 {
		return &sverr.PolicyInvariantViolation{
			Component: "viability.Kernel",
			Reason:    "min_integrity must be in [0,1]",
		}
	}
	if k.MinChi < 0 || k.MinChi > 1 {
		return &sverr.PolicyInvariantViolation{
			Component: "viability.Kernel",
			Reason:    "min_chi must be in [0,1]",
		}
	}
	return nil
}

// IsViable rejects when the lifeforce gate fails, or when any polytope row
// is violated beyond tolerance: Aᵢ·x <= bᵢ + eps for every row i.
func (k *Kernel) IsViable(state SwarmState7D, lf LifeforceState) bool {
	if lf.Integrity < k.MinIntegrity || lf.Chi < k.MinChi {
		return false
	}

	x := state.vector()
	for i, row := range k.A {
		var acc float32
		for j, w := range row {
			acc += w * x[j]
		}
		if acc > k.B[i]+roh.Epsilon {
			return false
		}
	}
	return true
}

// SafeFilter returns nominal unchanged when the current state is viable.
// Otherwise it returns a conservative projection: all actuation channels
// (intensity, duty cycle, implant power, neuromod amplitude) zeroed, while
// cumulative load, cognitive load, and legal complexity pass through from
// state unchanged. The projection itself is idempotent: projecting its
// own output changes nothing, since the actuation channels are already
// zero. SafeFilter re-checks viability on every call, so when the
// projected state lies inside the kernel a second call returns nominal.
func (k *Kernel) SafeFilter(state, nominal SwarmState7D, lf LifeforceState) SwarmState7D {
	if k.IsViable(state, lf) {
		return nominal
	}
	return SwarmState7D{
		Intensity:       0,
		DutyCycle:       0,
		CumulativeLoad:  state.CumulativeLoad,
		ImplantPower:    0,
		NeuromodAmp:     0,
		CognitiveLoad:   state.CognitiveLoad,
		LegalComplexity: state.LegalComplexity,
	}
}
