package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/monitoring"
	"github.com/sells-group/diligence-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for analysis requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalysis(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		var totaler monitoring.CreditTotaler
		var consumer server.CreditConsumer
		if env.Ledger != nil {
			totaler = env.Ledger
			consumer = env.Ledger
		}
		collector := monitoring.NewCollector(env.Store, totaler)

		srv := server.New(env.Store, env.Orchestrator, env.Reconciler, consumer, collector, server.Config{
			Port:              port,
			RunCost:           cfg.Credits.RunCost,
			MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
		})

		zap.L().Info("starting server", zap.Int("port", port))
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
