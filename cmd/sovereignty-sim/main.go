// Package main — cmd/sovereignty-sim/main.go
//
// sovereignty-sim loads the declarative policy artifacts, constructs a
// sovereigntycore.Core, evaluates a single proposal read from disk, and
// exits with a status code an embedding process can branch on.
//
// Startup sequence:
//  1. Load and validate config from the path given by -config.
//  2. Initialise structured logger (zap).
//  3. Load policy artifacts: RoH model, stake rules, neurorights policy,
//     viability kernel, CyberRank weights.
//  4. Open the BoltDB donutloop ledger sink.
//  5. Open the evolve stream append log.
//  6. Resolve the configured candidate.Provider.
//  7. Construct the Core — any invariant violation here is fatal.
//  8. Start the Prometheus metrics server (non-blocking).
//  9. Load and evaluate the proposal given by -proposal.
// 10. Print the decision as JSON to stdout, flush the logger, exit.
//
// Exit codes:
//
//	0  — proposal allowed
//	2  — proposal rejected by a guard
//	70 — internal or construction error (EX_SOFTWARE)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/hexen-unified/sovereigntycore"
	"github.com/hexen-unified/sovereigntycore/internal/candidate"
	"github.com/hexen-unified/sovereigntycore/internal/config"
	"github.com/hexen-unified/sovereigntycore/internal/cyberrank"
	"github.com/hexen-unified/sovereigntycore/internal/envelope"
	"github.com/hexen-unified/sovereigntycore/internal/evolvelog"
	"github.com/hexen-unified/sovereigntycore/internal/metrics"
	"github.com/hexen-unified/sovereigntycore/internal/neurorights"
	"github.com/hexen-unified/sovereigntycore/internal/roh"
	"github.com/hexen-unified/sovereigntycore/internal/stake"
	"github.com/hexen-unified/sovereigntycore/internal/storage"
	"github.com/hexen-unified/sovereigntycore/internal/viability"
)

const (
	exitAllowed  = 0
	exitRejected = 2
	exitInternal = 70
)

func main() {
	configPath := flag.String("config", "/etc/sovereigntycore/config.yaml", "Path to config.yaml")
	proposalPath := flag.String("proposal", "", "Path to a JSON-encoded proposal to evaluate")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("sovereignty-sim %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(exitAllowed)
	}
	if *proposalPath == "" {
		fmt.Fprintln(os.Stderr, "FATAL: -proposal is required")
		os.Exit(exitInternal)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(exitInternal)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(exitInternal)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("sovereignty-sim starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, provider, cleanup, err := buildCore(cfg, log)
	if err != nil {
		log.Error("core construction failed", zap.Error(err))
		os.Exit(exitInternal)
	}
	defer cleanup()

	metricsSink := metrics.NewPrometheusSink()
	go func() {
		if err := metricsSink.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	proposal, err := loadProposal(*proposalPath)
	if err != nil {
		log.Error("proposal load failed", zap.Error(err))
		os.Exit(exitInternal)
	}

	if len(proposal.Candidates) == 0 {
		candidates, err := provider.ListCandidates(proposal.SubjectID, proposal.Scope.String())
		if err != nil {
			log.Error("candidate provider failed", zap.Error(err))
			os.Exit(exitInternal)
		}
		proposal.Candidates = candidates
	}

	outcome, err := core.EvaluateUpdate(proposal)
	if err != nil {
		log.Error("evaluation failed", zap.Error(err))
		os.Exit(exitInternal)
	}

	out, err := json.Marshal(outcome)
	if err != nil {
		log.Error("marshaling decision failed", zap.Error(err))
		os.Exit(exitInternal)
	}
	fmt.Println(string(out))

	if outcome.Kind == sovereigntycore.Rejected {
		log.Info("proposal rejected", zap.String("reason", outcome.Reason))
		os.Exit(exitRejected)
	}
	log.Info("proposal allowed")
	os.Exit(exitAllowed)
}

// buildCore wires every policy artifact and ancillary capability into a
// sovereigntycore.Core, plus the configured candidate.Provider the
// caller consults to populate UpdateProposal.Candidates when a proposal
// doesn't already carry its own. The returned cleanup func closes the
// durable sink; callers must defer it immediately.
func buildCore(cfg *config.Config, log *zap.Logger) (*sovereigntycore.Core, candidate.Provider, func(), error) {
	var rohModel roh.Model
	if err := loadYAML(cfg.Policy.RohModelPath, &rohModel); err != nil {
		return nil, nil, nil, fmt.Errorf("loading roh model: %w", err)
	}

	var kernel viability.Kernel
	if err := loadYAML(cfg.Policy.ViabilityKernelPath, &kernel); err != nil {
		return nil, nil, nil, fmt.Errorf("loading viability kernel: %w", err)
	}

	var stakeFile struct {
		Scopes   map[string][]stake.Role `yaml:"scopes"`
		Subjects map[string][]stake.Role `yaml:"subjects"`
	}
	if err := loadYAML(cfg.Policy.StakeRulesPath, &stakeFile); err != nil {
		return nil, nil, nil, fmt.Errorf("loading stake rules: %w", err)
	}
	stakeRules := make(stake.Rules, len(stakeFile.Scopes))
	for name, roles := range stakeFile.Scopes {
		scope, err := stake.ScopeFromWire(name)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading stake rules: %w", err)
		}
		stakeRules[scope] = roles
	}

	var neurorightsDoc neurorights.Document
	if err := loadYAML(cfg.Policy.NeurorightsPolicyPath, &neurorightsDoc); err != nil {
		return nil, nil, nil, fmt.Errorf("loading neurorights policy: %w", err)
	}
	requiredScopes := []string{"daytodaytuning", "archchange", "lifeforcealteration"}

	var cyberWeights cyberrank.Weights
	if err := loadYAML(cfg.Policy.CyberRankWeightsPath, &cyberWeights); err != nil {
		return nil, nil, nil, fmt.Errorf("loading cyberrank weights: %w", err)
	}

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening ledger storage: %w", err)
	}

	evolveFile, err := os.OpenFile(cfg.EvolveLog.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("opening evolve stream: %w", err)
	}
	evolveWriter := evolvelog.NewJSONLWriter(evolveFile)

	provider, err := candidate.Get(cfg.Candidate.ProviderName)
	if err != nil {
		_ = evolveFile.Close()
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("resolving candidate provider: %w", err)
	}

	metricsSink := metrics.NewPrometheusSink()

	core, err := sovereigntycore.New(
		rohModel,
		stakeRules,
		stakeFile.Subjects,
		neurorightsDoc,
		requiredScopes,
		db,
		kernel,
		cyberWeights,
		evolveWriter,
		metricsSink,
	)
	if err != nil {
		_ = evolveFile.Close()
		_ = db.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = evolveFile.Close()
		if err := db.Close(); err != nil {
			log.Warn("ledger close failed", zap.Error(err))
		}
	}
	return core, provider, cleanup, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// proposalWire is the JSON shape accepted by -proposal. It mirrors
// sovereigntycore.UpdateProposal with wire-friendly scope/token-kind
// strings in place of their Go enum types.
type proposalWire struct {
	ProposalID   string                      `json:"proposal_id"`
	SubjectID    string                      `json:"subject_id"`
	Scope        string                      `json:"scope"`
	SignerRoles  []stake.Role                `json:"signer_roles"`
	TokenKind    string                      `json:"token_kind"`
	Effect       neurorights.EffectBounds    `json:"effect"`
	DecisionUse  string                      `json:"decision_use"`
	Commercial   bool                        `json:"commercial"`
	RohBefore    float32                     `json:"roh_before"`
	RohInputs    roh.Inputs                  `json:"roh_inputs"`
	Envelope     envelope.Bounds             `json:"envelope"`
	CurrentState viability.SwarmState7D      `json:"current_state"`
	NominalState viability.SwarmState7D      `json:"nominal_state"`
	Lifeforce    viability.LifeforceState    `json:"lifeforce"`
	Candidates   []cyberrank.CandidateAction `json:"candidates"`
	Kind         string                      `json:"kind"`
	Module       string                      `json:"module"`
	UpdateKind   string                      `json:"update_kind"`
	TsafeMode    string                      `json:"tsafe_mode"`
	EvolveEffect evolvelog.EffectBounds      `json:"effect_bounds"`
	TimestampUTC string                      `json:"timestamp_utc"`
}

func loadProposal(path string) (sovereigntycore.UpdateProposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sovereigntycore.UpdateProposal{}, err
	}
	var w proposalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return sovereigntycore.UpdateProposal{}, err
	}

	scope, err := stake.ScopeFromWire(w.Scope)
	if err != nil {
		return sovereigntycore.UpdateProposal{}, err
	}
	var tokenKind neurorights.TokenKind
	switch w.TokenKind {
	case "smart":
		tokenKind = neurorights.TokenSmart
	case "evolve":
		tokenKind = neurorights.TokenEvolve
	default:
		return sovereigntycore.UpdateProposal{}, fmt.Errorf("unknown token_kind %q", w.TokenKind)
	}

	timestamp := w.TimestampUTC
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	return sovereigntycore.UpdateProposal{
		ProposalID:  w.ProposalID,
		SubjectID:   w.SubjectID,
		Scope:       scope,
		SignerRoles: w.SignerRoles,
		TokenKind:   tokenKind,
		Effect:      w.Effect,
		NeurorightsContext: neurorights.DecisionContext{
			DecisionUse: w.DecisionUse,
			Commercial:  w.Commercial,
		},
		RohBefore:    w.RohBefore,
		RohInputs:    w.RohInputs,
		Envelope:     w.Envelope,
		CurrentState: w.CurrentState,
		NominalState: w.NominalState,
		Lifeforce:    w.Lifeforce,
		Candidates:   w.Candidates,
		Kind:         w.Kind,
		Module:       w.Module,
		UpdateKind:   w.UpdateKind,
		TsafeMode:    w.TsafeMode,
		EvolveEffect: w.EvolveEffect,
		TimestampUTC: timestamp,
	}, nil
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
