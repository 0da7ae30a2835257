package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	retryLimit   int
	retryOffline bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed stages for records parked in the dead letter queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, retryOffline)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.RetryParked(ctx, retryLimit)
		if err != nil {
			return eris.Wrap(err, "retry: drain dlq")
		}

		remaining, err := env.Store.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "retry: count dlq")
		}

		zap.L().Info("retry complete",
			zap.Int("drained", summary.Drained),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("requeued", summary.Requeued),
			zap.Int("remaining", remaining),
		)
		return nil
	},
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 50, "max DLQ entries to drain")
	retryCmd.Flags().BoolVar(&retryOffline, "offline", false, "use the stub oracle (no API key needed)")
	rootCmd.AddCommand(retryCmd)
}
