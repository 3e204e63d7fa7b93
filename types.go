// Package sovereigntycore composes the eight sovereignty guards — RoH
// ceiling, envelope monotonicity, viability, CyberRank selection, stake,
// neurorights, donutloop, and evolve-stream logging — into a single
// orchestrator that a host application evaluates every proposed change
// against before it reaches a subject.
package sovereigntycore

import (
	"encoding/json"

	"github.com/hexen-unified/sovereigntycore/internal/cyberrank"
	"github.com/hexen-unified/sovereigntycore/internal/envelope"
	"github.com/hexen-unified/sovereigntycore/internal/evolvelog"
	"github.com/hexen-unified/sovereigntycore/internal/neurorights"
	"github.com/hexen-unified/sovereigntycore/internal/roh"
	"github.com/hexen-unified/sovereigntycore/internal/stake"
	"github.com/hexen-unified/sovereigntycore/internal/viability"
)

// UpdateProposal carries everything the orchestrator needs to evaluate a
// single proposed change through every guard in sequence, plus the
// intent-level metadata (ProposalID, Kind, Module, UpdateKind,
// TsafeMode, EvolveEffect) that has no bearing on any guard but is
// required to populate the evolve stream's EvolutionProposalRecord wire
// format in full (§6).
type UpdateProposal struct {
	ProposalID string
	SubjectID  string

	Scope       stake.Scope
	SignerRoles []stake.Role

	TokenKind          neurorights.TokenKind
	Effect             neurorights.EffectBounds
	NeurorightsContext neurorights.DecisionContext

	RohBefore float32
	RohInputs roh.Inputs

	Envelope envelope.Bounds

	CurrentState viability.SwarmState7D
	NominalState viability.SwarmState7D
	Lifeforce    viability.LifeforceState

	Candidates []cyberrank.CandidateAction

	// Kind, Module, and UpdateKind classify the proposal for the evolve
	// stream only ("evolution_proposal", the subsystem touched, and the
	// specific update performed); TsafeMode names the Tsafe mode the
	// proposal targets. None of the four feed any guard.
	Kind       string
	Module     string
	UpdateKind string
	TsafeMode  string

	// EvolveEffect is the spec's own EffectBounds{l2_delta_norm,
	// irreversible} shape, carried on the evolve stream wire format
	// verbatim. It is distinct from Effect, which is the richer
	// ambient shape the neurorights guard enforces scope ceilings
	// against.
	EvolveEffect evolvelog.EffectBounds

	TimestampUTC string
}

// DecisionKind distinguishes an allowed outcome from a rejected one.
type DecisionKind int

const (
	Allowed DecisionKind = iota
	Rejected
)

// DecisionOutcome is the orchestrator's verdict on one proposal. Reason
// is populated only when Kind == Rejected. SafeState is populated only
// by EvaluateUpdate: it is the viability kernel's conservative
// projection (§4.3 safe_filter) computed against the proposal's current
// state, regardless of whether that state was itself inside the
// kernel — the guard decision is derived from IsViable directly, never
// from comparing SafeState to the nominal state.
type DecisionOutcome struct {
	Kind           DecisionKind
	Reason         string
	RohAfter       float32
	SelectedAction cyberrank.CandidateAction
	HasSelection   bool
	SafeState      *viability.SwarmState7D
}

func (d DecisionOutcome) String() string {
	if d.Kind == Allowed {
		return "allowed"
	}
	return "rejected"
}

// decisionOutcomeWire is DecisionOutcome's JSON shape: Kind encodes as
// its wire string ("allowed"/"rejected") rather than a bare integer.
type decisionOutcomeWire struct {
	Decision       string                     `json:"decision"`
	Reason         string                     `json:"reason,omitempty"`
	RohAfter       float32                    `json:"roh_after"`
	SelectedAction *cyberrank.CandidateAction `json:"selected_action,omitempty"`
	SafeState      *viability.SwarmState7D    `json:"safe_state,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d DecisionOutcome) MarshalJSON() ([]byte, error) {
	w := decisionOutcomeWire{
		Decision:  d.String(),
		Reason:    d.Reason,
		RohAfter:  d.RohAfter,
		SafeState: d.SafeState,
	}
	if d.HasSelection {
		w.SelectedAction = &d.SelectedAction
	}
	return json.Marshal(w)
}
