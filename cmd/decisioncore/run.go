package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/coordinator"
	"github.com/solifugus/decisioncore/internal/hostdemo"
	"github.com/solifugus/decisioncore/internal/registry"
	"github.com/solifugus/decisioncore/internal/telemetry"
	"github.com/solifugus/decisioncore/internal/treedef"
)

var (
	runConfigPath    string
	runTemplatesDir  string
	runTemplatesGlob string
	runLogLevel      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load templates and tick the coordinator until interrupted",
	Long: `run wires the full stack together: it loads a Config (or the documented
defaults), registers the demo host's actions and conditions, builds every tree
template under --templates, and ticks the coordinator at its configured rate
until interrupted. It does not spawn any execution contexts, so no built tree
is stepped by this command.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to a coordinator config YAML file (defaults applied if omitted)")
	runCmd.Flags().StringVar(&runTemplatesDir, "templates", "", "directory of tree template YAML documents to load")
	runCmd.Flags().StringVar(&runTemplatesGlob, "templates-glob", "", "glob pattern under --templates (default **/*.yaml)")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "info", "log level: debug, info, warn, or error")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	telemetry.Init(runLogLevel)

	cfg := coordinator.DefaultConfig()
	if runConfigPath != "" {
		loaded, err := coordinator.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	reg := registry.New()
	world := hostdemo.New(clock.System{})
	hostdemo.RegisterActions(reg, world)
	hostdemo.RegisterConditions(reg, world)

	co := coordinator.New(cfg, clock.System{}, reg)

	if runTemplatesDir != "" {
		lib := treedef.NewLibrary()
		if err := lib.LoadDir(runTemplatesDir, runTemplatesGlob); err != nil {
			return fmt.Errorf("loading templates: %w", err)
		}
		if err := lib.BuildAll(co); err != nil {
			return fmt.Errorf("building templates: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.L().Info("decisioncore starting",
		zap.Int("tick_hz", cfg.TickHz),
		zap.String("templates", runTemplatesDir),
	)

	err := co.Run(ctx)
	if err != nil && ctx.Err() != nil {
		telemetry.L().Info("decisioncore stopped")
		return nil
	}
	return err
}
