package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff-worker/internal/store"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Return a failed or stuck job to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RequeueJob(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "requeue job %s", args[0])
		}

		fmt.Fprintf(cmd.OutOrStdout(), "job %s queued\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}
