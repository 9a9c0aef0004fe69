package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd follows the teacher pack's root-command idiom (see
// Agusx1211-adaf's internal/cli/root.go): a package-level *cobra.Command
// with subcommands wired through their own init() functions, and a single
// Execute() entry point that converts a returned error into a stderr
// message plus a non-zero exit.
var rootCmd = &cobra.Command{
	Use:   "decisioncore",
	Short: "Runtime and CLI for the NPC decision core behavior-tree engine",
	Long: `decisioncore loads tree templates, spawns execution contexts against a
demo world, and ticks a Coordinator — a runnable harness for the behavior-tree
runtime rather than a game of its own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// Execute runs the root command, reporting any returned error on stderr.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "decisioncore: %v\n", err)
		os.Exit(1)
	}
}
