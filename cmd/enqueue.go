package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff-worker/internal/store"
)

var (
	enqueueBid   string
	enqueueUser  string
	enqueueTrade string
	enqueueDocs  []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an extraction job for a bid's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if enqueueBid == "" {
			return eris.New("--bid is required")
		}
		if len(enqueueDocs) == 0 {
			return eris.New("at least one --doc is required")
		}

		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.CreateJob(cmd.Context(), store.CreateJobParams{
			BidID:       enqueueBid,
			UserID:      enqueueUser,
			TradeCode:   enqueueTrade,
			DocumentIDs: enqueueDocs,
		})
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueBid, "bid", "", "bid id (required)")
	enqueueCmd.Flags().StringVar(&enqueueUser, "user", "", "requesting user id")
	enqueueCmd.Flags().StringVar(&enqueueTrade, "trade", "10 14 00", "trade code")
	enqueueCmd.Flags().StringSliceVar(&enqueueDocs, "doc", nil, "document id, repeatable (required)")
	rootCmd.AddCommand(enqueueCmd)
}
