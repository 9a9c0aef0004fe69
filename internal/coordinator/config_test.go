package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solifugus/decisioncore/internal/bt"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 20, cfg.MaxTreeDepth)
	require.Equal(t, 1000, cfg.MaxNodesPerTree)
	require.Equal(t, 60, cfg.TickHz)
	require.Equal(t, 8*time.Millisecond, cfg.PerTickBudget())
	require.Equal(t, 64, cfg.PerContextStepBudget)
	require.Equal(t, 5*time.Second, cfg.ActivationTimeout())
	require.Equal(t, 256, cfg.BlackboardLogCapacity)
	require.Equal(t, 4096, cfg.BlackboardMaxEntries)
	require.Equal(t, bt.RequireAll, cfg.ParallelPolicyDefault)
	require.Equal(t, 1, cfg.SchedulerCount)
	require.Equal(t, uint64(1469598103934665603), cfg.PRNGSeed)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_hz: 30\nparallel_policy_default: require_one\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.TickHz)
	require.Equal(t, bt.RequireOne, cfg.ParallelPolicyDefault)
	require.Equal(t, 1000, cfg.MaxNodesPerTree) // untouched field keeps its default
}

func TestLoadConfigRejectsUnknownParallelPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallel_policy_default: bogus\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
