package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/dataset"
)

var (
	runInput   string
	runOutput  string
	runOffline bool
	runLimit   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full enrichment pipeline over a dataset",
	Long: `Cleans the input table, infers missing fields and synthesizes street
addresses via the oracle, verifies homepage URLs with a bounded worker
pool, and flushes the final table to the store and the output file.

Examples:
  # Full pipeline with the real oracle
  enrich-cli run -i companies.csv -o enriched.csv

  # Offline run with the stub oracle (no API key needed)
  enrich-cli run -i companies.csv -o enriched.csv --offline`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		records, err := dataset.ReadFile(runInput, datasetOptions())
		if err != nil {
			return eris.Wrap(err, "run: read input")
		}
		if runLimit > 0 && runLimit < len(records) {
			records = records[:runLimit]
		}
		zap.L().Info("parsed input", zap.Int("rows", len(records)))

		env, err := initPipeline(ctx, runOffline)
		if err != nil {
			return err
		}
		defer env.Close()

		result, enriched, runErr := env.Pipeline.Run(ctx, records, runInput, runOutput)
		if len(enriched) > 0 && runOutput != "" {
			if err := dataset.WriteCSVFile(runOutput, enriched); err != nil {
				return eris.Wrap(err, "run: write output")
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run: pipeline")
		}

		zap.L().Info("run complete",
			zap.Int("records", result.Records),
			zap.Int("inferred", result.Enrich.Inferred),
			zap.Int("incomplete", result.Enrich.Incomplete),
			zap.Int("url_valid", result.Verify.Valid),
			zap.Int("url_invalid", result.Verify.Invalid),
			zap.Int("url_unchecked", result.Verify.Unchecked),
			zap.Int("total_tokens", result.TotalTokens),
			zap.Float64("total_cost", result.TotalCost),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "input CSV/XLSX file (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "enriched.csv", "output CSV file")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use the stub oracle (no API key needed)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max rows to process (0 = all)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
