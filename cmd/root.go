package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Session workflow engine for conversational intake assistants",
	Long: `Intake runs the domain-agnostic core of a conversational intake
assistant: it folds conversation turns into an append-only fact log,
scores how complete the session record is, gates actions behind
declarative conditions and manages generated artifact lifecycles. The
workflow definition (fields, actions, artifacts) is pure configuration;
the engine never hard-codes a domain.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".intake.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
