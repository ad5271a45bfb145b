package cmd

import (
	"github.com/spf13/cobra"

	"github.com/intakehq/intake/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize intake configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the engine and generates a .intake.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
