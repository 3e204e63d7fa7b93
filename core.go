package sovereigntycore

import (
	"fmt"
	"sync"

	"github.com/hexen-unified/sovereigntycore/internal/cyberrank"
	"github.com/hexen-unified/sovereigntycore/internal/donutloop"
	"github.com/hexen-unified/sovereigntycore/internal/evolvelog"
	"github.com/hexen-unified/sovereigntycore/internal/metrics"
	"github.com/hexen-unified/sovereigntycore/internal/neurorights"
	"github.com/hexen-unified/sovereigntycore/internal/roh"
	"github.com/hexen-unified/sovereigntycore/internal/stake"
	"github.com/hexen-unified/sovereigntycore/internal/sverr"
	"github.com/hexen-unified/sovereigntycore/internal/viability"
)

// Core is the composed sovereignty kernel. It is constructed once from a
// fixed set of policy artifacts and is safe for concurrent use
// thereafter — every evaluation serializes through a single mutex, the
// same single-writer discipline the donutloop ledger itself requires.
type Core struct {
	mu sync.Mutex

	roh          *roh.Shard
	viability    *viability.Kernel
	cyberWeights cyberrank.Weights
	stake        *stake.Shard
	neurorights  *neurorights.Policy
	ledger       *donutloop.Ledger
	evolve       evolvelog.Writer
	metricsSink  metrics.Sink
}

// New constructs a Core, validating every policy artifact in a fixed
// order: RoH model, then its ceiling, then the stake shard, then the
// neurorights policy, then the donutloop chain, then the viability
// kernel. The first invariant violation found aborts construction —
// a Core is never returned half-valid.
func New(
	rohModel roh.Model,
	stakeRules stake.Rules,
	stakeSubjects map[string][]stake.Role,
	neurorightsDoc neurorights.Document,
	neurorightsRequiredScopes []string,
	ledgerSink donutloop.Sink,
	viabilityKernel viability.Kernel,
	cyberWeights cyberrank.Weights,
	evolveWriter evolvelog.Writer,
	metricsSink metrics.Sink,
) (*Core, error) {
	rohShard := roh.NewShard(rohModel)
	if err := rohShard.ValidateInvariants(); err != nil {
		return nil, err
	}
	if rohShard.RohCeiling() != roh.Ceiling {
		return nil, &sverr.PolicyInvariantViolation{
			Component: "sovereigntycore.New",
			Reason:    fmt.Sprintf("roh ceiling %v does not match global ceiling %v", rohShard.RohCeiling(), roh.Ceiling),
		}
	}

	stakeShard := stake.NewShard(stakeRules, stakeSubjects)
	if err := stakeShard.Validate(); err != nil {
		return nil, err
	}

	neurorightsPolicy := neurorights.Compile(neurorightsDoc)
	if err := neurorightsPolicy.Validate(neurorightsRequiredScopes); err != nil {
		return nil, err
	}

	ledger, err := donutloop.Open(ledgerSink)
	if err != nil {
		return nil, err
	}

	kernelCopy := viabilityKernel
	if err := kernelCopy.Validate(); err != nil {
		return nil, err
	}

	return &Core{
		roh:          rohShard,
		viability:    &kernelCopy,
		cyberWeights: cyberWeights,
		stake:        stakeShard,
		neurorights:  neurorightsPolicy,
		ledger:       ledger,
		evolve:       evolveWriter,
		metricsSink:  metricsSink,
	}, nil
}

// RohCeiling returns the fixed global RoH ceiling this core enforces.
func (c *Core) RohCeiling() float32 {
	return roh.Ceiling
}

// LedgerLength returns the number of entries appended to the donutloop
// ledger so far.
func (c *Core) LedgerLength() uint64 {
	return c.ledger.Len()
}

// EvaluateEvolutionRecord runs the low-level guard pipeline used by the
// evolve stream itself: RoH ceiling, RoH monotone non-relaxation, stake
// signer coverage, neurorights enforcement, and the token-scope guard,
// appending an Allowed outcome to the donutloop ledger; a Rejected
// outcome leaves the ledger unchanged. It does not consult the envelope, viability kernel, or CyberRank — those
// only run under EvaluateUpdate.
func (c *Core) EvaluateEvolutionRecord(p UpdateProposal) (DecisionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rohAfter := c.roh.ComputeRoH(p.RohInputs)
	c.metricsSink.ObserveRoH(p.SubjectID, rohAfter)

	outcome, rejection := c.runCeilingAndMonotoneGuards(p, rohAfter)
	if outcome.Kind == Allowed {
		outcome, rejection = c.runStakeNeurorightsTokenGuards(p, rohAfter)
	}

	if _, err := c.recordOutcome(p, rohAfter, outcome); err != nil {
		return DecisionOutcome{}, err
	}
	if rejection != nil {
		c.metricsSink.IncGuardRejection(rejection.Rule)
	}
	c.metricsSink.IncDecision(p.Scope.String(), outcome.String())
	return outcome, nil
}

// EvaluateUpdate runs the full guard sequence in the order fixed by the
// orchestrator's state machine: RoH ceiling, RoH monotone guard,
// envelope monotonicity, viability safe-filtering, stake signer
// coverage, neurorights enforcement, the token-scope guard, CyberRank
// candidate selection, finishing with a donutloop append and an
// evolve-stream append. A Rejected outcome is never returned as a Go
// error — only ledger-append and evolve-stream write failures are.
func (c *Core) EvaluateUpdate(p UpdateProposal) (DecisionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rohAfter := c.roh.ComputeRoH(p.RohInputs)
	c.metricsSink.ObserveRoH(p.SubjectID, rohAfter)

	outcome, rejection := c.runCeilingAndMonotoneGuards(p, rohAfter)

	if outcome.Kind == Allowed && !p.Envelope.IsMonotone() {
		rejection = sverr.NewGuardRejection("EnvelopeViolation", "proposal loosens the operating envelope")
		outcome = DecisionOutcome{Kind: Rejected, Reason: rejection.Reason, RohAfter: rohAfter}
		c.metricsSink.IncEnvelopeViolation(p.Scope.String())
	}

	// SafeFilter always computes the conservative projection the
	// controller would actually apply; IsViable, not a comparison
	// against it, is what decides the guard. A proposal whose nominal
	// state already carries zero actuation would make SafeFilter's
	// output equal the nominal state even when the current state is
	// outside the kernel, which would wrongly allow an unsafe change.
	safeState := c.viability.SafeFilter(p.CurrentState, p.NominalState, p.Lifeforce)

	if outcome.Kind == Allowed && !c.viability.IsViable(p.CurrentState, p.Lifeforce) {
		rejection = sverr.NewGuardRejection("ViabilityViolation", "proposal falls outside the viability kernel; action was safe-filtered, not applied")
		outcome = DecisionOutcome{Kind: Rejected, Reason: rejection.Reason, RohAfter: rohAfter}
	}

	if outcome.Kind == Allowed {
		outcome, rejection = c.runStakeNeurorightsTokenGuards(p, rohAfter)
	}

	if outcome.Kind == Allowed {
		selected, found := cyberrank.TsafeSelect(p.Candidates, c.cyberWeights)
		if !found {
			rejection = sverr.NewGuardRejection("NoTsafeCandidate", "no Tsafe candidate action available")
			outcome = DecisionOutcome{Kind: Rejected, Reason: rejection.Reason, RohAfter: rohAfter}
		} else {
			outcome.SelectedAction = selected
			outcome.HasSelection = true
		}
	}
	outcome.SafeState = &safeState

	hexstamp, err := c.recordOutcome(p, rohAfter, outcome)
	if err != nil {
		return DecisionOutcome{}, err
	}

	rec := evolvelog.Record{
		ProposalID:   p.ProposalID,
		SubjectID:    p.SubjectID,
		Scope:        p.Scope.String(),
		Kind:         p.Kind,
		Module:       p.Module,
		UpdateKind:   p.UpdateKind,
		Effect:       p.EvolveEffect,
		RohBefore:    p.RohBefore,
		RohAfter:     rohAfter,
		TsafeMode:    p.TsafeMode,
		SignerRoles:  rolesToStrings(p.SignerRoles),
		TokenKind:    p.TokenKind,
		Decision:     outcome.String(),
		HexStamp:     hexstamp,
		TimestampUTC: p.TimestampUTC,
	}
	if err := c.evolve.WriteRecord(rec); err != nil {
		return DecisionOutcome{}, err
	}

	if rejection != nil {
		c.metricsSink.IncGuardRejection(rejection.Rule)
	}
	c.metricsSink.IncDecision(p.Scope.String(), outcome.String())
	return outcome, nil
}

// runCeilingAndMonotoneGuards evaluates the two guards common to every
// evaluation path and that must run before the envelope/viability guards
// of the high-level pipeline: the RoH ceiling and the RoH
// no-relaxation guard.
func (c *Core) runCeilingAndMonotoneGuards(p UpdateProposal, rohAfter float32) (DecisionOutcome, *sverr.GuardRejection) {
	if rohAfter > roh.Ceiling+roh.Epsilon {
		r := sverr.NewGuardRejection("RohCeilingExceeded", fmt.Sprintf("roh_after %v exceeds ceiling %v", rohAfter, roh.Ceiling))
		return DecisionOutcome{Kind: Rejected, Reason: r.Reason, RohAfter: rohAfter}, r
	}
	if rohAfter > p.RohBefore+roh.Epsilon {
		r := sverr.NewGuardRejection("RohMonotoneViolation", fmt.Sprintf("roh_after %v relaxes roh_before %v", rohAfter, p.RohBefore))
		return DecisionOutcome{Kind: Rejected, Reason: r.Reason, RohAfter: rohAfter}, r
	}
	return DecisionOutcome{Kind: Allowed, RohAfter: rohAfter}, nil
}

// runStakeNeurorightsTokenGuards evaluates, in fixed order, the stake
// signer-coverage guard, the neurorights guard, and the token-scope
// guard: Smart tokens may only accompany DayToDayTuning; Evolve is
// required for ArchChange and LifeforceAlteration.
func (c *Core) runStakeNeurorightsTokenGuards(p UpdateProposal, rohAfter float32) (DecisionOutcome, *sverr.GuardRejection) {
	if r := c.stake.CheckSignersForScope(p.Scope, p.SignerRoles); r != nil {
		return DecisionOutcome{Kind: Rejected, Reason: r.Reason, RohAfter: rohAfter}, r
	}
	if r := c.neurorights.EnforceForProposal(p.Scope, p.TokenKind, p.Effect, p.NeurorightsContext); r != nil {
		return DecisionOutcome{Kind: Rejected, Reason: r.Reason, RohAfter: rohAfter}, r
	}
	if r := tokenScopeGuard(p.Scope, p.TokenKind); r != nil {
		return DecisionOutcome{Kind: Rejected, Reason: r.Reason, RohAfter: rohAfter}, r
	}
	return DecisionOutcome{Kind: Allowed, RohAfter: rohAfter}, nil
}

// tokenScopeGuard enforces the token/scope pairing rule: a Smart token
// may only accompany DayToDayTuning; ArchChange and LifeforceAlteration
// both require an Evolve token.
func tokenScopeGuard(scope stake.Scope, kind neurorights.TokenKind) *sverr.GuardRejection {
	switch scope {
	case stake.ScopeDayToDayTuning:
		if kind != neurorights.TokenSmart {
			return sverr.NewGuardRejection("TokenScopeMismatch",
				fmt.Sprintf("scope %s requires a Smart token, got %s", scope, kind))
		}
	case stake.ScopeArchChange, stake.ScopeLifeforceAlteration:
		if kind != neurorights.TokenEvolve {
			return sverr.NewGuardRejection("TokenScopeMismatch",
				fmt.Sprintf("scope %s requires an Evolve token, got %s", scope, kind))
		}
	}
	return nil
}

// recordOutcome is the donutloop ledger append shared by both pipelines.
// It is reached only when every guard has passed — a proposal rejected
// by any guard never produces a ledger entry, so a rejection leaves the
// ledger's length unchanged and its returned hexstamp empty. A failure
// to append here is always a sverr.LedgerBroken — the chain itself
// could not be extended, which is fatal for the core — never a
// Rejected decision.
func (c *Core) recordOutcome(p UpdateProposal, rohAfter float32, outcome DecisionOutcome) (string, error) {
	if outcome.Kind != Allowed {
		return "", nil
	}
	entry, err := c.ledger.Append(p.SubjectID, p.Scope.String(), rohAfter, outcome.String(), p.TimestampUTC)
	if err != nil {
		return "", err
	}
	c.metricsSink.SetLedgerLength(c.ledger.Len())
	return entry.Hexstamp, nil
}

// rolesToStrings renders a signer-role slice as the bare strings the
// evolve stream's wire format carries them as.
func rolesToStrings(roles []stake.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
