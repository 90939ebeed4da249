package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/govsniper/govsniper/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <job-id>",
	Short: "Show recent runs of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListJobRuns(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "list job runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatJobRuns(os.Stdout, runs)
		return nil
	},
}

func formatJobRuns(w io.Writer, runs []model.JobRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tPROCESSED\tTOOK\tERROR")
	for _, r := range runs {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := r.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Status, r.Processed, took, errMsg)
	}
	tw.Flush()
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum runs to show")
	rootCmd.AddCommand(jobsCmd)
}
