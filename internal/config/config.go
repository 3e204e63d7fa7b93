// Package config provides configuration loading and validation for the
// sovereignty core.
//
// Configuration file: path given on the command line, YAML, schema
// version 1.
//
// Validation:
//   - All required fields must be present.
//   - Log level and log format must be one of the listed values.
//   - File paths must be absolute.
//   - Invalid config on startup: the process refuses to start.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the sovereignty core.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this deployment instance in startup logs. It is
	// not written into ledger entries.
	NodeID string `yaml:"node_id"`

	// Policy configures the declarative policy artifacts loaded at
	// construction.
	Policy PolicyConfig `yaml:"policy"`

	// Storage configures the durable donutloop ledger sink.
	Storage StorageConfig `yaml:"storage"`

	// EvolveLog configures the evolve stream append log.
	EvolveLog EvolveLogConfig `yaml:"evolve_log"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Candidate configures which candidate.Provider serves CyberRank
	// selection.
	Candidate CandidateConfig `yaml:"candidate"`
}

// PolicyConfig holds the file paths for the policy artifacts the core
// loads once at construction and never again.
type PolicyConfig struct {
	// RohModelPath is the path to the .rohmodel.yaml RoH model.
	RohModelPath string `yaml:"roh_model_path"`

	// ViabilityKernelPath is the path to the Tsafe viability kernel
	// definition.
	ViabilityKernelPath string `yaml:"viability_kernel_path"`

	// StakeRulesPath is the path to the stake shard's scope-to-role
	// rules file.
	StakeRulesPath string `yaml:"stake_rules_path"`

	// NeurorightsPolicyPath is the path to the neurorights policy
	// document.
	NeurorightsPolicyPath string `yaml:"neurorights_policy_path"`

	// CyberRankWeightsPath is the path to the CyberRank scoring weights.
	CyberRankWeightsPath string `yaml:"cyberrank_weights_path"`
}

// StorageConfig holds BoltDB parameters for the donutloop ledger.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB ledger file.
	DBPath string `yaml:"db_path"`
}

// EvolveLogConfig holds the evolve stream append log parameters.
type EvolveLogConfig struct {
	// Path is the absolute path to the NDJSON evolve stream file.
	Path string `yaml:"path"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// CandidateConfig selects the active candidate.Provider.
type CandidateConfig struct {
	// ProviderName is looked up in the candidate package's provider
	// registry at startup. Default: "static-default".
	ProviderName string `yaml:"provider_name"`

	// ManifestPath names a manifest for a file-backed provider. Nothing
	// in this repository reads it; the registered "static-default"
	// provider ignores it.
	ManifestPath string `yaml:"manifest_path,omitempty"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Policy: PolicyConfig{
			RohModelPath:          "/etc/sovereigntycore/rohmodel.yaml",
			ViabilityKernelPath:   "/etc/sovereigntycore/viability.yaml",
			StakeRulesPath:        "/etc/sovereigntycore/stake.yaml",
			NeurorightsPolicyPath: "/etc/sovereigntycore/neurorights.yaml",
			CyberRankWeightsPath:  "/etc/sovereigntycore/cyberrank.yaml",
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath,
		},
		EvolveLog: EvolveLogConfig{
			Path: "/var/lib/sovereigntycore/evolvestream.jsonl",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Candidate: CandidateConfig{
			ProviderName: "static-default",
		},
	}
}

// DefaultDBPath mirrors the storage package constant for use in config
// defaults.
const DefaultDBPath = "/var/lib/sovereigntycore/sovereigntycore.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, collecting every
// violation found rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}

	requirePath := func(field, value string) {
		if value == "" {
			errs = append(errs, fmt.Sprintf("%s must not be empty", field))
			return
		}
		if !filepath.IsAbs(value) {
			errs = append(errs, fmt.Sprintf("%s must be an absolute path, got %q", field, value))
		}
	}
	requirePath("policy.roh_model_path", cfg.Policy.RohModelPath)
	requirePath("policy.viability_kernel_path", cfg.Policy.ViabilityKernelPath)
	requirePath("policy.stake_rules_path", cfg.Policy.StakeRulesPath)
	requirePath("policy.neurorights_policy_path", cfg.Policy.NeurorightsPolicyPath)
	requirePath("policy.cyberrank_weights_path", cfg.Policy.CyberRankWeightsPath)
	requirePath("storage.db_path", cfg.Storage.DBPath)
	requirePath("evolve_log.path", cfg.EvolveLog.Path)

	if cfg.Candidate.ProviderName == "" {
		errs = append(errs, "candidate.provider_name must not be empty")
	}

	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be one of json|console, got %q", cfg.Observability.LogFormat))
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
