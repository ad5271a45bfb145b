package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/readiness"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
	"github.com/intakehq/intake/internal/session"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild every session record from the fact log",
	Long: `Replays the append-only fact log for every stored session and rebuilds
each record from scratch. Each log is replayed twice and the results
compared, so a non-deterministic merge shows up as an error here rather
than as a silently drifting record. Prints per-session readiness.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		wf, err := schema.Load(cfg.WorkflowFile)
		if err != nil {
			return fmt.Errorf("loading workflow: %w", err)
		}
		if _, err := depgraph.New(wf, builtinPredicates(wf)); err != nil {
			return fmt.Errorf("workflow %s: %w", cfg.WorkflowFile, err)
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		ctx := context.Background()
		sessions := session.NewStore(database)
		facts := record.NewStore(database)

		ids, err := sessions.List(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No sessions stored.")
			return nil
		}

		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionSetDescription("Replaying sessions"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		type row struct {
			id      string
			facts   int
			fields  int
			percent int
		}
		var rows []row

		for _, id := range ids {
			log, err := facts.List(ctx, id)
			if err != nil {
				return fmt.Errorf("session %s: %w", id, err)
			}

			rec := record.Replay(wf, log)
			again := record.Replay(wf, log)
			if !sameRecord(rec, again) {
				return fmt.Errorf("session %s: replay is not deterministic", id)
			}

			rows = append(rows, row{
				id:      id,
				facts:   len(log),
				fields:  len(rec.Fields),
				percent: readiness.Percent(readiness.Score(wf, rec)),
			})
			bar.Add(1)
		}
		bar.Finish()

		fmt.Printf("%-38s %8s %8s %10s\n", "SESSION", "FACTS", "FIELDS", "READINESS")
		for _, r := range rows {
			fmt.Printf("%-38s %8d %8d %9d%%\n", r.id, r.facts, r.fields, r.percent)
		}
		fmt.Printf("\n%d sessions replayed, all deterministic.\n", len(rows))
		return nil
	},
}

// sameRecord compares two records by their canonical JSON encoding.
func sameRecord(a, b *record.Record) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
