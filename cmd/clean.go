package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/dataset"
	"github.com/venturescope/enrich-cli/internal/pipeline"
)

var (
	cleanInput  string
	cleanOutput string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Validate and normalize a dataset without calling the oracle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := dataset.ReadFile(cleanInput, datasetOptions())
		if err != nil {
			return eris.Wrap(err, "clean: read input")
		}

		rules, err := pipeline.LoadRules(cfg.Pipeline.RulesPath)
		if err != nil {
			return err
		}

		cleaned, summary := pipeline.Clean(records, rules)

		if err := dataset.WriteCSVFile(cleanOutput, cleaned); err != nil {
			return eris.Wrap(err, "clean: write output")
		}

		zap.L().Info("clean complete",
			zap.String("input", cleanInput),
			zap.String("output", cleanOutput),
			zap.Int("input_rows", summary.InputRows),
			zap.Int("kept", summary.Kept),
			zap.Int("dropped_empty", summary.DroppedEmpty),
			zap.Int("dropped_no_name", summary.DroppedNoName),
			zap.Int("dropped_corrupt", summary.DroppedCorrupt),
			zap.Int("corrected", summary.Corrected),
		)
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringVarP(&cleanInput, "input", "i", "", "input CSV/XLSX file (required)")
	cleanCmd.Flags().StringVarP(&cleanOutput, "output", "o", "cleaned.csv", "output CSV file")
	_ = cleanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(cleanCmd)
}
