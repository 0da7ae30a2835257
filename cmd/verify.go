package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/dataset"
)

var (
	verifyRunID   string
	verifyOutput  string
	verifyOffline bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-run URL verification over a stored run snapshot",
	Long: `Loads a run's flushed snapshot and verifies homepage URLs that are
still undecided. Records already marked valid or invalid are skipped, so
re-entry after a partial run is idempotent.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, verifyOffline)
		if err != nil {
			return err
		}
		defer env.Close()

		runID := verifyRunID
		if runID == "" {
			runID, err = env.Store.LatestRunWithSnapshot(ctx)
			if err != nil {
				return eris.Wrap(err, "verify: resolve run")
			}
		}

		summary, records, err := env.Pipeline.VerifySnapshot(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "verify: snapshot")
		}

		if verifyOutput != "" {
			if err := dataset.WriteCSVFile(verifyOutput, records); err != nil {
				return eris.Wrap(err, "verify: write output")
			}
		}

		zap.L().Info("verify complete",
			zap.String("run_id", runID),
			zap.Int("checked", summary.Checked),
			zap.Int("valid", summary.Valid),
			zap.Int("invalid", summary.Invalid),
			zap.Int("unchecked", summary.Unchecked),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyRunID, "run", "", "run ID (default: latest run with a snapshot)")
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "", "write the updated table to a CSV file")
	verifyCmd.Flags().BoolVar(&verifyOffline, "offline", false, "use the stub oracle (no API key needed)")
	rootCmd.AddCommand(verifyCmd)
}
