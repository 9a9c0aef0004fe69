package coordinator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solifugus/decisioncore/internal/bt"
)

// Config is the canonical configuration struct for a Coordinator — the
// recognized options of spec §6, expressed the concrete way the
// CONFIGURATION SCHEMA names them (millisecond integers on disk,
// time.Duration once loaded). Grounded on the teacher's
// BehaviorTreeConfig-equivalent defaults pattern, loaded the way
// vsavkov-kilroy config-loads: gopkg.in/yaml.v3 plus an explicit
// DefaultConfig/LoadConfig pair rather than struct tags driving defaults.
type Config struct {
	MaxTreeDepth          int                `yaml:"max_tree_depth"`
	MaxNodesPerTree       int                `yaml:"max_nodes_per_tree"`
	TickHz                int                `yaml:"tick_hz"`
	PerTickBudgetMS       int                `yaml:"per_tick_budget_ms"`
	PerContextStepBudget  int                `yaml:"per_context_step_budget"`
	ActivationTimeoutMS   int                `yaml:"activation_timeout_ms"`
	BlackboardLogCapacity int                `yaml:"blackboard_log_capacity"`
	BlackboardMaxEntries  int                `yaml:"blackboard_max_entries"`
	ParallelPolicyDefault bt.ParallelPolicy `yaml:"-"`
	ParallelPolicyName    string            `yaml:"parallel_policy_default"`
	SchedulerCount        int               `yaml:"scheduler_count"`
	PRNGSeed              uint64            `yaml:"prng_seed"`
}

// PerTickBudget and ActivationTimeout convert the millisecond config
// fields to time.Duration, since the scheduler and engine work in
// time.Duration throughout. Config itself keeps the millisecond
// integers read from the file; these accessors convert on each call.
func (c Config) PerTickBudget() time.Duration {
	return time.Duration(c.PerTickBudgetMS) * time.Millisecond
}

func (c Config) ActivationTimeout() time.Duration {
	return time.Duration(c.ActivationTimeoutMS) * time.Millisecond
}

func (c Config) Limits() bt.Limits {
	return bt.Limits{MaxDepth: c.MaxTreeDepth, MaxNodes: c.MaxNodesPerTree}
}

// DefaultConfig returns the documented defaults (SPEC_FULL.md
// CONFIGURATION SCHEMA).
func DefaultConfig() Config {
	return Config{
		MaxTreeDepth:          20,
		MaxNodesPerTree:       1000,
		TickHz:                60,
		PerTickBudgetMS:       8,
		PerContextStepBudget:  64,
		ActivationTimeoutMS:   5000,
		BlackboardLogCapacity: 256,
		BlackboardMaxEntries:  4096,
		ParallelPolicyDefault: bt.RequireAll,
		ParallelPolicyName:    "require_all",
		SchedulerCount:        1,
		PRNGSeed:              1469598103934665603,
	}
}

// LoadConfig reads path as YAML over DefaultConfig (keys absent from the
// file keep their default; a key present in the file replaces it, even
// with a zero value), the way the teacher's template/config
// loaders treat an on-disk document as an overlay rather than a
// from-scratch struct.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("coordinator: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("coordinator: parsing config %s: %w", path, err)
	}
	if err := cfg.resolvePolicy(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolvePolicy() error {
	switch c.ParallelPolicyName {
	case "", "require_all":
		c.ParallelPolicyDefault = bt.RequireAll
	case "require_one":
		c.ParallelPolicyDefault = bt.RequireOne
	case "quorum":
		c.ParallelPolicyDefault = bt.Quorum
	default:
		return fmt.Errorf("coordinator: unknown parallel_policy_default %q", c.ParallelPolicyName)
	}
	return nil
}
