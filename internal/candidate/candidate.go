// Package candidate supplies candidate actions for CyberRank selection.
//
// The orchestrator itself holds no opinion about where candidate actions
// come from — a fixed upgrade catalog, a file on disk, a remote
// inventory service — so that choice is left to a Provider, resolved by
// name at startup the same way a custom scorer plugin is resolved: an
// init()-time registration by name, with the caller picking the active
// provider via config.
//
// Built-in provider types: StaticProvider (fixed in-process list) and
// FileProvider (JSON manifest on disk). Only one provider is registered
// by this package: "static-default", a StaticProvider serving
// DefaultUpgradeRegistry. Additional providers register themselves with
// Register from their own init().
package candidate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/hexen-unified/sovereigntycore/internal/cyberrank"
)

// Provider returns the candidate actions available for a given subject
// and scope at evaluation time.
//
// Contract:
//   - ListCandidates must not mutate shared state visible to other
//     callers.
//   - IsViable on returned candidates is the provider's own judgment;
//     the orchestrator's CyberRank selection uses it as given and does
//     not re-check candidates against the viability kernel.
type Provider interface {
	Name() string
	ListCandidates(subjectID, scope string) ([]cyberrank.CandidateAction, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Provider)
)

// Register adds p to the provider registry. Panics if a provider with
// the same name is already registered. Call from init() in plugin
// packages.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[p.Name()]; exists {
		panic(fmt.Sprintf("candidate: provider %q already registered", p.Name()))
	}
	registry[p.Name()] = p
}

// Get returns the registered provider with the given name.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("candidate: no provider registered as %q", name)
	}
	return p, nil
}

// StaticProvider always returns the same fixed set of candidates,
// regardless of subject or scope. Useful for tests and for a minimal
// single-action deployment.
type StaticProvider struct {
	name       string
	candidates []cyberrank.CandidateAction
}

// NewStaticProvider builds a StaticProvider serving candidates under name.
func NewStaticProvider(name string, candidates []cyberrank.CandidateAction) *StaticProvider {
	return &StaticProvider{name: name, candidates: candidates}
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) ListCandidates(subjectID, scope string) ([]cyberrank.CandidateAction, error) {
	out := make([]cyberrank.CandidateAction, len(p.candidates))
	copy(out, p.candidates)
	return out, nil
}

// FileProvider reads a JSON manifest of candidate actions from disk on
// every call. It is intended for operator-editable catalogs where the
// file may change between restarts without a rebuild.
type FileProvider struct {
	name string
	path string
}

func NewFileProvider(name, path string) *FileProvider {
	return &FileProvider{name: name, path: path}
}

func (p *FileProvider) Name() string { return p.name }

func (p *FileProvider) ListCandidates(subjectID, scope string) ([]cyberrank.CandidateAction, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("candidate: reading manifest %s: %w", p.path, err)
	}
	var all []cyberrank.CandidateAction
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("candidate: parsing manifest %s: %w", p.path, err)
	}
	return all, nil
}

// DefaultUpgradeRegistry returns the fixed reference catalog shipped with
// this package: a single conservative, fully reversible upgrade, safe to
// use as a smoke-test fixture or as the sole candidate in a minimal
// deployment.
func DefaultUpgradeRegistry() []cyberrank.CandidateAction {
	return []cyberrank.CandidateAction{
		{
			ID: "bci-safe-001",
			Rank: cyberrank.RankVector{
				Safety:   0.95,
				Legal:    0.90,
				Biomech:  0.85,
				Psych:    0.90,
				Rollback: 1.0,
			},
			IsViable: true,
		},
	}
}

func init() {
	Register(NewStaticProvider("static-default", DefaultUpgradeRegistry()))
}
