// Package config loads and validates the engine configuration. The config
// is immutable after load: the engine receives it by value at construction
// and per-tenant overrides are a lookup, never a mutation of the defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/scoring"
)

// Config captures every recognized engine option.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Storage    StorageConfig           `yaml:"storage"`
	Healing    HealingConfig           `yaml:"healing"`
	Scoring    ScoringConfig           `yaml:"scoring"`
	Logging    LoggingConfig           `yaml:"logging"`
	Tenants    map[string]TenantConfig `yaml:"tenants"`
	Validation ValidationConfig        `yaml:"validation"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AuthToken       string        `yaml:"authToken"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig controls persistence locations.
type StorageConfig struct {
	DatabasePath string `yaml:"databasePath"`
	SnapshotDir  string `yaml:"snapshotDir"`
}

// HealingConfig controls workflow thresholds and concurrency.
type HealingConfig struct {
	// AutoApplyThreshold is the minimum confidence for applying a repair
	// without review (non-production tiers only).
	AutoApplyThreshold float64 `yaml:"autoApplyThreshold"`
	// RejectThreshold is the confidence below which no suggestion is
	// surfaced as actionable.
	RejectThreshold float64 `yaml:"rejectThreshold"`
	// RollbackWindow bounds how long a committed repair stays revertible.
	RollbackWindow time.Duration `yaml:"rollbackWindow"`
	// Workers sizes the healing worker pool.
	Workers int `yaml:"workers"`
	// MaxConcurrentRecordsPerTenant bounds in-flight records per tenant so
	// one tenant's failure burst cannot starve another's.
	MaxConcurrentRecordsPerTenant int `yaml:"maxConcurrentRecordsPerTenant"`
	// ApprovalPolicy is an expression deciding whether a record requires
	// human approval; it sees tier, confidence, and auto_threshold.
	ApprovalPolicy string `yaml:"approvalPolicy"`
}

// ScoringConfig controls the confidence scorer.
type ScoringConfig struct {
	Weights scoring.Weights `yaml:"weights"`
	// SignalTimeout bounds the external semantic-similarity call.
	SignalTimeout    time.Duration `yaml:"signalTimeout"`
	SemanticEndpoint string        `yaml:"semanticEndpoint"`
	SemanticAPIKey   string        `yaml:"semanticAPIKey"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ValidationConfig controls the post-apply validation run.
type ValidationConfig struct {
	// Timeout bounds one validation run.
	Timeout time.Duration `yaml:"timeout"`
}

// TenantConfig overrides selected healing options for one tenant. Zero
// values fall through to the global defaults.
type TenantConfig struct {
	AutoApplyThreshold            float64       `yaml:"autoApplyThreshold"`
	RejectThreshold               float64       `yaml:"rejectThreshold"`
	RollbackWindow                time.Duration `yaml:"rollbackWindow"`
	MaxConcurrentRecordsPerTenant int           `yaml:"maxConcurrentRecordsPerTenant"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8440",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "gomend.db",
			SnapshotDir:  "snapshots",
		},
		Healing: HealingConfig{
			AutoApplyThreshold:            0.85,
			RejectThreshold:               0.5,
			RollbackWindow:                7 * 24 * time.Hour,
			Workers:                       8,
			MaxConcurrentRecordsPerTenant: 4,
			ApprovalPolicy:                `tier == "production" || confidence < auto_threshold`,
		},
		Scoring: ScoringConfig{
			Weights:       scoring.DefaultWeights(),
			SignalTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Validation: ValidationConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads and validates a YAML config file, filling defaults for any
// unset option. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Healing.AutoApplyThreshold < 0 || c.Healing.AutoApplyThreshold > 1 {
		return fmt.Errorf("autoApplyThreshold %g outside [0,1]", c.Healing.AutoApplyThreshold)
	}
	if c.Healing.RejectThreshold < 0 || c.Healing.RejectThreshold > 1 {
		return fmt.Errorf("rejectThreshold %g outside [0,1]", c.Healing.RejectThreshold)
	}
	if c.Healing.RejectThreshold > c.Healing.AutoApplyThreshold {
		return fmt.Errorf("rejectThreshold %g exceeds autoApplyThreshold %g",
			c.Healing.RejectThreshold, c.Healing.AutoApplyThreshold)
	}
	if c.Healing.RollbackWindow <= 0 {
		return fmt.Errorf("rollbackWindow must be positive")
	}
	if c.Healing.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Healing.MaxConcurrentRecordsPerTenant <= 0 {
		return fmt.Errorf("maxConcurrentRecordsPerTenant must be positive")
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		return err
	}
	if c.Scoring.SignalTimeout <= 0 {
		return fmt.Errorf("scoring signalTimeout must be positive")
	}
	for name, t := range c.Tenants {
		if t.AutoApplyThreshold < 0 || t.AutoApplyThreshold > 1 {
			return fmt.Errorf("tenant %s: autoApplyThreshold %g outside [0,1]", name, t.AutoApplyThreshold)
		}
		if t.RejectThreshold < 0 || t.RejectThreshold > 1 {
			return fmt.Errorf("tenant %s: rejectThreshold %g outside [0,1]", name, t.RejectThreshold)
		}
	}
	return nil
}

// ForTenant resolves the effective healing options for one tenant:
// global defaults with the tenant's overrides applied.
func (c Config) ForTenant(tenant types.TenantID) HealingConfig {
	eff := c.Healing
	t, ok := c.Tenants[tenant.String()]
	if !ok {
		return eff
	}
	if t.AutoApplyThreshold > 0 {
		eff.AutoApplyThreshold = t.AutoApplyThreshold
	}
	if t.RejectThreshold > 0 {
		eff.RejectThreshold = t.RejectThreshold
	}
	if t.RollbackWindow > 0 {
		eff.RollbackWindow = t.RollbackWindow
	}
	if t.MaxConcurrentRecordsPerTenant > 0 {
		eff.MaxConcurrentRecordsPerTenant = t.MaxConcurrentRecordsPerTenant
	}
	return eff
}
