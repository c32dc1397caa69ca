package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/worker"
)

var workCount int

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run worker loops that claim and process extraction jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorker(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wcfg := cfg.Worker
		if workCount > 0 {
			wcfg.Count = workCount
		}

		zap.L().Info("starting worker",
			zap.String("worker_id", wcfg.ID),
			zap.Int("loops", wcfg.Count),
		)

		sup := worker.NewSupervisor(env.Store, env.Pipeline, wcfg)
		return sup.Run(ctx)
	},
}

func init() {
	workCmd.Flags().IntVar(&workCount, "count", 0, "worker loops (default from config)")
	rootCmd.AddCommand(workCmd)
}
