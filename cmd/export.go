package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff-worker/internal/export"
	"github.com/sells-group/takeoff-worker/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's items as an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("takeoff-%s.xlsx", args[0])
		}

		if err := export.WriteRunWorkbook(cmd.Context(), st, args[0], out); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default takeoff-<run-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
