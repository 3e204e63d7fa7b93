// Package neurorights implements the declarative neurorights policy: a
// document loaded once from an external artifact, compiled into a
// lookup-friendly view, and consulted by the orchestrator's L6 guard to
// reject any proposal that would exceed a subject's protected bounds.
//
// The policy only ever tightens what the other guards already allow — it
// cannot authorize something the RoH ceiling, envelope, or viability
// kernel would otherwise refuse.
package neurorights

import (
	"fmt"

	"github.com/hexen-unified/sovereigntycore/internal/stake"
	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// Ceiling is the fixed global RoH ceiling every neurorights document must
// declare exactly. Matches roh.Ceiling; duplicated here so this package
// does not need to import internal/roh solely for one constant.
const Ceiling float32 = 0.30

// ceilingTolerance mirrors roh.Epsilon's role: the document's declared
// ceiling must equal Ceiling within machine epsilon of a 32-bit float.
const ceilingTolerance float32 = 1.0 / (1 << 23)

// TokenKind enumerates the two proposal token classes named by the wire
// format. Smart tokens tune existing behavior; Evolve tokens alter the
// subject's operating envelope or architecture.
type TokenKind int

const (
	TokenSmart TokenKind = iota
	TokenEvolve
)

func (k TokenKind) String() string {
	switch k {
	case TokenSmart:
		return "smart"
	case TokenEvolve:
		return "evolve"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// EffectBounds describes the physical extent of a proposal's effect: how
// strong, how long, and whether it can be undone.
type EffectBounds struct {
	MaxIntensity      float32 `json:"max_intensity"`
	MaxDurationSeconds int64   `json:"max_duration_seconds"`
	Reversible        bool    `json:"reversible"`
}

// ScopeBounds is the per-scope ceiling the policy enforces: an effect
// bound no proposal in that scope may exceed, and whether irreversible
// effects are permitted at all.
type ScopeBounds struct {
	Max                EffectBounds `yaml:"max" json:"max"`
	AllowIrreversible  bool         `yaml:"allow_irreversible" json:"allow_irreversible"`
}

// Document is the declarative policy as loaded from a neurorights policy
// file: non-commercial neural data, dream-state sensitivity, forbidden
// decision-use classes, and the fixed RoH ceiling, plus the ambient
// per-scope effect ceilings this implementation supplements them with.
type Document struct {
	ID                      string                 `yaml:"id" json:"id"`
	NoncommercialNeuralData bool                   `yaml:"noncommercial_neural_data" json:"noncommercial_neural_data"`
	DreamStateSensitive     bool                   `yaml:"dream_state_sensitive" json:"dream_state_sensitive"`
	ForbidDecisionUse       []string               `yaml:"forbid_decision_use" json:"forbid_decision_use"`
	RohCeiling              float32                `yaml:"roh_ceiling" json:"roh_ceiling"`
	ForbiddenTokens         []TokenKind            `yaml:"forbidden_tokens" json:"forbidden_tokens"`
	ScopeBounds             map[string]ScopeBounds `yaml:"scope_bounds" json:"scope_bounds"`
}

// Policy is the compiled, lookup-friendly view of a Document,
// denormalizing the hot predicates the orchestrator's guard consults on
// every evaluation. Compilation happens once at construction so
// per-proposal enforcement never allocates or re-parses.
type Policy struct {
	dreamStateSensitive bool
	noncommercial       bool
	rohCeiling          float32
	forbidDecisionUse   map[string]struct{}
	forbidden           map[TokenKind]struct{}
	scopeBounds         map[string]ScopeBounds
}

// Compile builds a Policy from doc. It does not validate doc — callers
// must call Validate on the result before trusting it.
func Compile(doc Document) *Policy {
	forbidden := make(map[TokenKind]struct{}, len(doc.ForbiddenTokens))
	for _, t := range doc.ForbiddenTokens {
		forbidden[t] = struct{}{}
	}
	bounds := make(map[string]ScopeBounds, len(doc.ScopeBounds))
	for k, v := range doc.ScopeBounds {
		bounds[k] = v
	}
	uses := make(map[string]struct{}, len(doc.ForbidDecisionUse))
	for _, u := range doc.ForbidDecisionUse {
		uses[u] = struct{}{}
	}
	return &Policy{
		dreamStateSensitive: doc.DreamStateSensitive,
		noncommercial:       doc.NoncommercialNeuralData,
		rohCeiling:          doc.RohCeiling,
		forbidDecisionUse:   uses,
		forbidden:           forbidden,
		scopeBounds:         bounds,
	}
}

// DreamStateSensitive reports the compiled view's dream-sensitivity bit.
func (p *Policy) DreamStateSensitive() bool { return p.dreamStateSensitive }

// RohCeiling returns the ceiling this document declared.
func (p *Policy) RohCeiling() float32 { return p.rohCeiling }

// Validate enforces the document's structural invariants: the RoH
// ceiling equals the global constant within ceilingTolerance, every
// forbidden decision-use string is non-empty, and every scope in the
// caller-supplied requiredScopes set has declared bounds with
// non-negative max intensity and duration. Scopes in scopeBounds that
// are not in requiredScopes are not checked.
func (p *Policy) Validate(requiredScopes []string) error {
	delta := p.rohCeiling - Ceiling
	if delta < 0 {
		delta = -delta
	}
	if delta > ceilingTolerance {
		return &sverr.PolicyInvariantViolation{
			Component: "neurorights.Policy",
			Reason:    fmt.Sprintf("roh_ceiling %v does not match global ceiling %v", p.rohCeiling, Ceiling),
		}
	}
	for u := range p.forbidDecisionUse {
		if u == "" {
			return &sverr.PolicyInvariantViolation{
				Component: "neurorights.Policy",
				Reason:    "forbid_decision_use contains an empty string",
			}
		}
	}

	for _, scope := range requiredScopes {
		b, ok := p.scopeBounds[scope]
		if !ok {
			return &sverr.PolicyInvariantViolation{
				Component: "neurorights.Policy",
				Reason:    fmt.Sprintf("no scope bounds declared for scope %q", scope),
			}
		}
		if b.Max.MaxIntensity < 0 {
			return &sverr.PolicyInvariantViolation{
				Component: "neurorights.Policy",
				Reason:    fmt.Sprintf("scope %q has negative max_intensity", scope),
			}
		}
		if b.Max.MaxDurationSeconds < 0 {
			return &sverr.PolicyInvariantViolation{
				Component: "neurorights.Policy",
				Reason:    fmt.Sprintf("scope %q has negative max_duration_seconds", scope),
			}
		}
	}
	return nil
}

// DecisionContext carries the parts of a proposal the neurorights guard
// needs beyond scope and token kind: what decision-use class the
// proposal serves and whether it would put the subject's neural data to
// commercial use.
type DecisionContext struct {
	DecisionUse string
	Commercial  bool
}

// EnforceForProposal rejects a proposal whose token kind is forbidden
// outright, whose decision-use class is on the forbidden list, whose
// commercial use breaches a non-commercial-data constraint, whose
// effect bounds exceed the ceiling declared for scope, or whose scope
// is LifeforceAlteration carrying a Smart token while this policy is
// dream-state sensitive.
func (p *Policy) EnforceForProposal(scope stake.Scope, kind TokenKind, effect EffectBounds, ctx DecisionContext) *sverr.GuardRejection {
	if _, banned := p.forbidden[kind]; banned {
		return sverr.NewGuardRejection("NeurorightsViolation",
			fmt.Sprintf("token kind %s is forbidden by neurorights policy", kind))
	}
	if ctx.DecisionUse != "" {
		if _, forbidden := p.forbidDecisionUse[ctx.DecisionUse]; forbidden {
			return sverr.NewGuardRejection("NeurorightsViolation",
				fmt.Sprintf("decision use %q is forbidden by neurorights policy", ctx.DecisionUse))
		}
	}
	if ctx.Commercial && p.noncommercial {
		return sverr.NewGuardRejection("NeurorightsViolation",
			"proposal would put neural data to commercial use, violating the non-commercial neural data constraint")
	}
	if scope == stake.ScopeLifeforceAlteration && kind == TokenSmart && p.dreamStateSensitive {
		return sverr.NewGuardRejection("NeurorightsViolation",
			"LifeforceAlteration requires EVOLVE token under dream_state_sensitive neurorights")
	}

	scopeKey := scope.String()
	bounds, ok := p.scopeBounds[scopeKey]
	if !ok {
		return sverr.NewGuardRejection("NeurorightsViolation",
			fmt.Sprintf("no neurorights bounds declared for scope %q", scopeKey))
	}
	if effect.MaxIntensity > bounds.Max.MaxIntensity {
		return sverr.NewGuardRejection("NeurorightsViolation",
			fmt.Sprintf("effect intensity %v exceeds scope %q ceiling %v", effect.MaxIntensity, scopeKey, bounds.Max.MaxIntensity))
	}
	if effect.MaxDurationSeconds > bounds.Max.MaxDurationSeconds {
		return sverr.NewGuardRejection("NeurorightsViolation",
			fmt.Sprintf("effect duration %ds exceeds scope %q ceiling %ds", effect.MaxDurationSeconds, scopeKey, bounds.Max.MaxDurationSeconds))
	}
	if !effect.Reversible && !bounds.AllowIrreversible {
		return sverr.NewGuardRejection("NeurorightsViolation",
			fmt.Sprintf("scope %q does not permit irreversible effects", scopeKey))
	}
	return nil
}
