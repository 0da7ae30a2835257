package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/dataset"
	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/pipeline"
)

var importInput string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Clean a dataset and snapshot it without calling the oracle",
	Long:  "Runs the validator only and flushes the cleaned table to the store, so reports can be answered over un-enriched data.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		records, err := dataset.ReadFile(importInput, datasetOptions())
		if err != nil {
			return eris.Wrap(err, "import: read input")
		}

		rules, err := pipeline.LoadRules(cfg.Pipeline.RulesPath)
		if err != nil {
			return err
		}
		cleaned, summary := pipeline.Clean(records, rules)
		if len(cleaned) == 0 {
			return eris.New("import: no records left after cleaning")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, importInput, "")
		if err != nil {
			return eris.Wrap(err, "import: create run")
		}
		if err := st.SaveSnapshot(ctx, run.ID, cleaned); err != nil {
			return eris.Wrap(err, "import: save snapshot")
		}
		if err := st.UpdateRunResult(ctx, run.ID, &model.RunResult{
			Clean:   summary,
			Records: len(cleaned),
		}); err != nil {
			return eris.Wrap(err, "import: save result")
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete); err != nil {
			return eris.Wrap(err, "import: mark complete")
		}

		zap.L().Info("import complete",
			zap.String("run_id", run.ID),
			zap.Int("input_rows", summary.InputRows),
			zap.Int("kept", summary.Kept),
			zap.Int("dropped", summary.Dropped()),
			zap.Int("corrected", summary.Corrected),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importInput, "input", "i", "", "input CSV/XLSX file (required)")
	_ = importCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(importCmd)
}
