package sovereigntycore

import (
	"testing"

	"github.com/hexen-unified/sovereigntycore/internal/cyberrank"
	"github.com/hexen-unified/sovereigntycore/internal/donutloop"
	"github.com/hexen-unified/sovereigntycore/internal/envelope"
	"github.com/hexen-unified/sovereigntycore/internal/evolvelog"
	"github.com/hexen-unified/sovereigntycore/internal/metrics"
	"github.com/hexen-unified/sovereigntycore/internal/neurorights"
	"github.com/hexen-unified/sovereigntycore/internal/roh"
	"github.com/hexen-unified/sovereigntycore/internal/stake"
	"github.com/hexen-unified/sovereigntycore/internal/viability"
)

// recordingEvolveWriter captures every record written so tests can
// assert the evolve stream saw a proposal regardless of outcome.
type recordingEvolveWriter struct {
	records []evolvelog.Record
}

func (w *recordingEvolveWriter) WriteRecord(r evolvelog.Record) error {
	w.records = append(w.records, r)
	return nil
}

func defaultNeurorightsDoc() neurorights.Document {
	return neurorights.Document{
		ID:         "nr-1",
		RohCeiling: 0.30,
		ScopeBounds: map[string]neurorights.ScopeBounds{
			"daytodaytuning": {
				Max:               neurorights.EffectBounds{MaxIntensity: 1, MaxDurationSeconds: 3600, Reversible: true},
				AllowIrreversible: true,
			},
			"archchange": {
				Max:               neurorights.EffectBounds{MaxIntensity: 1, MaxDurationSeconds: 3600, Reversible: true},
				AllowIrreversible: true,
			},
			"lifeforcealteration": {
				Max:               neurorights.EffectBounds{MaxIntensity: 1, MaxDurationSeconds: 3600, Reversible: true},
				AllowIrreversible: true,
			},
		},
	}
}

func defaultViabilityKernel() viability.Kernel {
	// A permissive box: every dimension bounded at 1, trivially satisfied
	// by the small test fixtures below.
	rows := make([][]float32, viability.Dimensions)
	b := make([]float32, viability.Dimensions)
	for i := range rows {
		row := make([]float32, viability.Dimensions)
		row[i] = 1
		rows[i] = row
		b[i] = 1
	}
	return viability.Kernel{ModeID: "permissive", A: rows, B: b, MinIntegrity: 0, MinChi: 0}
}

func tightViabilityKernel() viability.Kernel {
	// Rejects any state with Intensity > 0.5.
	rows := [][]float32{{1, 0, 0, 0, 0, 0, 0}}
	b := []float32{0.5}
	return viability.Kernel{ModeID: "tight-intensity", A: rows, B: b, MinIntegrity: 0.5, MinChi: 0}
}

func buildCore(t *testing.T, kernel viability.Kernel, doc neurorights.Document, evolveWriter evolvelog.Writer) (*Core, *donutloop.MemorySink) {
	t.Helper()
	sink := donutloop.NewMemorySink()
	core, err := New(
		roh.Model{
			ID: "roh-1",
			Weights: roh.Weights{
				EnergyLoad:    0.2,
				ThermalLoad:   0.2,
				CognitiveLoad: 0.2,
				Inflammation:  0.2,
				EcoImpact:     0.2,
			},
			RohCeiling: roh.Ceiling,
		},
		stake.DefaultRules(),
		map[string][]stake.Role{"subject-1": {stake.RoleHost}},
		doc,
		[]string{"daytodaytuning", "archchange", "lifeforcealteration"},
		sink,
		kernel,
		cyberrank.Weights{Safety: 1, Legal: 1, Biomech: 1, Psych: 1, Rollback: 1},
		evolveWriter,
		metrics.NewRecordingSink(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return core, sink
}

func viableCandidates() []cyberrank.CandidateAction {
	return []cyberrank.CandidateAction{
		{ID: "bci-safe-001", Rank: cyberrank.RankVector{Safety: 0.9, Legal: 0.9, Biomech: 0.9, Psych: 0.9, Rollback: 0.9}, IsViable: true},
	}
}

func baseProposal() UpdateProposal {
	return UpdateProposal{
		SubjectID:   "subject-1",
		Scope:       stake.ScopeDayToDayTuning,
		SignerRoles: []stake.Role{stake.RoleHost},
		TokenKind:   neurorights.TokenSmart,
		Effect:      neurorights.EffectBounds{MaxIntensity: 0.1, MaxDurationSeconds: 10, Reversible: true},
		RohBefore:   0.10,
		RohInputs:   roh.Inputs{EnergyLoad: 0.5, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0},
		Envelope:    envelope.Bounds{GOld: 1.0, GNew: 1.0, DOld: 1.0, DNew: 1.0},
		CurrentState: viability.SwarmState7D{},
		NominalState: viability.SwarmState7D{},
		Lifeforce:    viability.LifeforceState{Cy: 1, Zen: 1, Chi: 1, Integrity: 1},
		Candidates:   viableCandidates(),
		TimestampUTC: "2026-07-29T00:00:00Z",
	}
}

// Ceiling exceeded.
func TestEvaluateUpdate_CeilingExceeded(t *testing.T) {
	core, sink := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.20
	// RohInputs chosen so ComputeRoH yields 0.31 with equal 0.2 weights.
	p.RohInputs = roh.Inputs{EnergyLoad: 1.55, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0}

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0 (unchanged by rejection)", sink.Len())
	}
}

// Monotone violated.
func TestEvaluateUpdate_MonotoneViolated(t *testing.T) {
	core, sink := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{EnergyLoad: 0.75, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0} // -> 0.15

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0", sink.Len())
	}
}

// Envelope loosening.
func TestEvaluateUpdate_EnvelopeLoosened(t *testing.T) {
	core, sink := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{} // -> 0.0, well within bounds
	p.Envelope = envelope.Bounds{GOld: 1.0, GNew: 0.9, DOld: 1.0, DNew: 1.0}

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0", sink.Len())
	}
}

// Outside viability.
func TestEvaluateUpdate_OutsideViability(t *testing.T) {
	core, sink := buildCore(t, tightViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{}
	p.CurrentState = viability.SwarmState7D{Intensity: 0.95, DutyCycle: 0.9}
	p.NominalState = viability.SwarmState7D{Intensity: 0.95, DutyCycle: 0.9}
	p.Lifeforce = viability.LifeforceState{Cy: 1, Zen: 1, Chi: 1, Integrity: 0.2}

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0", sink.Len())
	}
}

// Token/scope mismatch under dream-state sensitivity.
func TestEvaluateUpdate_DreamStateSensitiveTokenMismatch(t *testing.T) {
	doc := defaultNeurorightsDoc()
	doc.DreamStateSensitive = true
	core, sink := buildCore(t, defaultViabilityKernel(), doc, &recordingEvolveWriter{})

	p := baseProposal()
	p.Scope = stake.ScopeLifeforceAlteration
	p.SignerRoles = []stake.Role{stake.RoleHost, stake.RoleGuardian, stake.RoleSteward}
	p.TokenKind = neurorights.TokenSmart
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{}

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	want := "LifeforceAlteration requires EVOLVE token under dream_state_sensitive neurorights"
	if outcome.Reason != want {
		t.Errorf("outcome.Reason = %q, want %q", outcome.Reason, want)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0", sink.Len())
	}
}

// Happy path.
func TestEvaluateUpdate_HappyPath(t *testing.T) {
	evolveWriter := &recordingEvolveWriter{}
	core, sink := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), evolveWriter)

	p := baseProposal()
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{EnergyLoad: 0.4, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0} // -> 0.08

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Allowed {
		t.Fatalf("outcome.Kind = %v, want Allowed (reason: %s)", outcome.Kind, outcome.Reason)
	}
	if sink.Len() != 1 {
		t.Fatalf("ledger length = %d, want 1", sink.Len())
	}
	if len(evolveWriter.records) != 1 {
		t.Fatalf("evolve stream length = %d, want 1", len(evolveWriter.records))
	}

	first := sink.Entries()[0]
	if first.PrevHexstamp != donutloop.GenesisHexstamp {
		t.Errorf("first entry prev_hexstamp = %q, want genesis", first.PrevHexstamp)
	}

	// A second allowed evaluation must chain onto the first.
	p2 := baseProposal()
	p2.RohBefore = 0.08
	p2.RohInputs = roh.Inputs{EnergyLoad: 0.3, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0} // -> 0.06

	outcome2, err := core.EvaluateUpdate(p2)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome2.Kind != Allowed {
		t.Fatalf("second outcome.Kind = %v, want Allowed (reason: %s)", outcome2.Kind, outcome2.Reason)
	}
	entries := sink.Entries()
	if len(entries) != 2 {
		t.Fatalf("ledger length = %d, want 2", len(entries))
	}
	if entries[1].PrevHexstamp != entries[0].Hexstamp {
		t.Errorf("entry[1].prev_hexstamp = %q, want entry[0].hexstamp %q", entries[1].PrevHexstamp, entries[0].Hexstamp)
	}
}

// Any Allowed outcome satisfies roh_after <= min(ceiling, roh_before) + eps.
func TestEvaluateUpdate_AllowedImpliesRohBounded(t *testing.T) {
	core, _ := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.25
	p.RohInputs = roh.Inputs{EnergyLoad: 0.5, ThermalLoad: 0, CognitiveLoad: 0, Inflammation: 0, EcoImpact: 0} // -> 0.10

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Allowed {
		t.Fatalf("expected Allowed, got Rejected: %s", outcome.Reason)
	}
	limit := p.RohBefore
	if roh.Ceiling < limit {
		limit = roh.Ceiling
	}
	if outcome.RohAfter > limit+roh.Epsilon {
		t.Errorf("roh_after %v exceeds min(ceiling, roh_before)+eps = %v", outcome.RohAfter, limit+roh.Epsilon)
	}
}

// Archchange/evolve token-scope guard: the plain mismatch (no
// dream-state sensitivity involved) must still be rejected.
func TestEvaluateUpdate_TokenScopeGuard_ArchChangeRequiresEvolve(t *testing.T) {
	core, sink := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.Scope = stake.ScopeArchChange
	p.SignerRoles = []stake.Role{stake.RoleHost, stake.RoleSteward}
	p.TokenKind = neurorights.TokenSmart
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{}

	outcome, err := core.EvaluateUpdate(p)
	if err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if outcome.Kind != Rejected {
		t.Fatalf("outcome.Kind = %v, want Rejected", outcome.Kind)
	}
	if sink.Len() != 0 {
		t.Errorf("ledger length = %d, want 0", sink.Len())
	}
}

// EvaluateEvolutionRecord does not consult envelope, viability, or
// CyberRank — only the shared guards plus the token-scope guard.
func TestEvaluateEvolutionRecord_SkipsEnvelopeAndViability(t *testing.T) {
	core, sink := buildCore(t, tightViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	p := baseProposal()
	p.RohBefore = 0.10
	p.RohInputs = roh.Inputs{}
	// This would fail the viability kernel if it were consulted, and the
	// envelope would fail too, but EvaluateEvolutionRecord never checks
	// either.
	p.Envelope = envelope.Bounds{GOld: 1.0, GNew: 0.0, DOld: 0.0, DNew: 1.0}
	p.CurrentState = viability.SwarmState7D{Intensity: 0.99}
	p.Lifeforce = viability.LifeforceState{Integrity: 0}

	outcome, err := core.EvaluateEvolutionRecord(p)
	if err != nil {
		t.Fatalf("EvaluateEvolutionRecord() error: %v", err)
	}
	if outcome.Kind != Allowed {
		t.Fatalf("outcome.Kind = %v, want Allowed (reason: %s)", outcome.Kind, outcome.Reason)
	}
	if sink.Len() != 1 {
		t.Errorf("ledger length = %d, want 1", sink.Len())
	}
}

func TestLedgerLength_ReflectsOnlyAllowedEvaluations(t *testing.T) {
	core, _ := buildCore(t, defaultViabilityKernel(), defaultNeurorightsDoc(), &recordingEvolveWriter{})

	reject := baseProposal()
	reject.RohBefore = 0.05
	reject.RohInputs = roh.Inputs{EnergyLoad: 1.55} // -> 0.31, exceeds ceiling

	if _, err := core.EvaluateUpdate(reject); err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if core.LedgerLength() != 0 {
		t.Fatalf("LedgerLength() = %d, want 0 after a rejection", core.LedgerLength())
	}

	allow := baseProposal()
	allow.RohBefore = 0.10
	allow.RohInputs = roh.Inputs{EnergyLoad: 0.4} // -> 0.08

	if _, err := core.EvaluateUpdate(allow); err != nil {
		t.Fatalf("EvaluateUpdate() error: %v", err)
	}
	if core.LedgerLength() != 1 {
		t.Fatalf("LedgerLength() = %d, want 1 after an allowed evaluation", core.LedgerLength())
	}
}
