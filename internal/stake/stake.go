// Package stake implements the multisig governance shard: a mapping from
// Scope to the set of signer roles required to authorize a proposal in
// that scope, plus a per-subject invariant that exactly one Host role
// exists.
//
// The shard trusts declared signer roles — it does not authenticate
// signers. Authentication is an external collaborator's concern (spec
// non-goal).
package stake

import (
	"fmt"
	"sort"

	"github.com/hexen-unified/sovereigntycore/internal/sverr"
)

// Role is a signer role name, e.g. "Host", "Guardian", "Steward".
type Role string

const (
	RoleHost     Role = "Host"
	RoleGuardian Role = "Guardian"
	RoleSteward  Role = "Steward"
)

// Scope enumerates the three proposal scopes. String values match the
// orchestrator's wire encoding table exactly (see String and
// ScopeFromWire below).
type Scope int

const (
	ScopeDayToDayTuning Scope = iota
	ScopeArchChange
	ScopeLifeforceAlteration
)

// allScopes lists every Scope value for total-coverage checks at load
// time; any stake file missing one of these entries fails construction.
var allScopes = []Scope{ScopeDayToDayTuning, ScopeArchChange, ScopeLifeforceAlteration}

// String returns the scope's lowercase wire encoding, matching the
// orchestrator's wire format exactly.
func (s Scope) String() string {
	switch s {
	case ScopeDayToDayTuning:
		return "daytodaytuning"
	case ScopeArchChange:
		return "archchange"
	case ScopeLifeforceAlteration:
		return "lifeforcealteration"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ScopeFromWire parses the lowercase wire encoding back into a Scope.
func ScopeFromWire(s string) (Scope, error) {
	switch s {
	case "daytodaytuning":
		return ScopeDayToDayTuning, nil
	case "archchange":
		return ScopeArchChange, nil
	case "lifeforcealteration":
		return ScopeLifeforceAlteration, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}

// SubjectRoster maps a subject ID to its declared roster of signer roles
// for the current proposal (who signed, not who is authorized — that is
// looked up via Rules).
type SubjectRoster map[string][]Role

// Rules maps each Scope to its required signer-role set. The default
// roster nests by severity: LifeforceAlteration requires
// {Host, Guardian, Steward}, a superset of ArchChange's {Host, Steward},
// itself a superset of DayToDayTuning's {Host}.
type Rules map[Scope][]Role

// DefaultRules returns the fixed scope-to-role-set contract named in the
// spec's component design for the stake shard.
func DefaultRules() Rules {
	return Rules{
		ScopeDayToDayTuning:      {RoleHost},
		ScopeArchChange:          {RoleHost, RoleSteward},
		ScopeLifeforceAlteration: {RoleHost, RoleGuardian, RoleSteward},
	}
}

// Shard is the multisig governance shard, constructed once from an
// external artifact and immutable thereafter.
type Shard struct {
	rules    Rules
	subjects map[string][]Role // subject_id -> declared roster from the stake file
}

// NewShard wraps rules and a subject roster (used only to enforce the
// one-Host-per-subject invariant at construction; per-proposal signer
// checks use the signer_roles carried on the proposal itself, per spec).
func NewShard(rules Rules, subjects map[string][]Role) *Shard {
	return &Shard{rules: rules, subjects: subjects}
}

// Validate enforces total scope coverage in rules and exactly one Host
// role per subject in the roster.
func (s *Shard) Validate() error {
	for _, scope := range allScopes {
		if _, ok := s.rules[scope]; !ok {
			return &sverr.PolicyInvariantViolation{
				Component: "stake.Shard",
				Reason:    fmt.Sprintf("stake rules missing scope %s", scope),
			}
		}
	}

	for subject, roles := range s.subjects {
		hostCount := 0
		for _, r := range roles {
			if r == RoleHost {
				hostCount++
			}
		}
		if hostCount != 1 {
			return &sverr.PolicyInvariantViolation{
				Component: "stake.Shard",
				Reason:    fmt.Sprintf("subject %q must have exactly one Host role, got %d", subject, hostCount),
			}
		}
	}
	return nil
}

// CheckSignersForScope fails with a GuardRejection when the declared
// signer-role set does not cover the scope's required role set.
func (s *Shard) CheckSignersForScope(scope Scope, signerRoles []Role) *sverr.GuardRejection {
	required, ok := s.rules[scope]
	if !ok {
		return sverr.NewGuardRejection("InsufficientAuthority",
			fmt.Sprintf("no stake rule defined for scope %s", scope))
	}

	have := make(map[Role]struct{}, len(signerRoles))
	for _, r := range signerRoles {
		have[r] = struct{}{}
	}

	var missing []Role
	for _, req := range required {
		if _, ok := have[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return sverr.NewGuardRejection("InsufficientAuthority",
			fmt.Sprintf("scope %s requires signer roles %v, missing %v", scope, required, missing))
	}
	return nil
}
