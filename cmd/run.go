package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Invoke one scheduled job immediately",
	Long: `Runs a single registered job once, subject to the same run lease as
scheduled invocations. Job ids: ingest, enrich, analyze, notify, deepaudit,
cleanup, leadgen-extract, leadgen-contacts, leadgen-clients.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := args[0]
		if err := env.Scheduler.RunOnce(ctx, jobID); err != nil {
			return err
		}

		zap.L().Info("job finished", zap.String("job", jobID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
