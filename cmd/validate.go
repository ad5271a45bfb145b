package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the engine config and workflow definition",
	Long: `Loads the config file and the workflow definition it points at, then
runs the full structural checks: field weights summing to 1.0, condition
references resolving, and artifact requirement graphs staying acyclic.
Exits non-zero on the first problem found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		wf, err := schema.Load(cfg.WorkflowFile)
		if err != nil {
			return fmt.Errorf("loading workflow %s: %w", cfg.WorkflowFile, err)
		}
		if _, err := depgraph.New(wf, builtinPredicates(wf)); err != nil {
			return fmt.Errorf("workflow %s: %w", cfg.WorkflowFile, err)
		}

		fmt.Printf("%s: OK\n", cfg.WorkflowFile)
		fmt.Printf("  fields:    %d\n", len(wf.Fields))
		fmt.Printf("  actions:   %d\n", len(wf.Actions))
		fmt.Printf("  artifacts: %d\n", len(wf.Artifacts))
		fmt.Printf("  max cards: %d\n", wf.MaxCards)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
