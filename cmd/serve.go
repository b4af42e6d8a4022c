package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/cadence/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	Long: `Starts the background scheduler (reminders, stall scans, memory
maintenance, briefings) and serves the REST API and websocket event stream
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, logger, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		if servePort > 0 {
			e.Config.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(e.Config.Server, logger.Named("http"), e)
		logger.Info("cadence starting",
			zap.Int("port", e.Config.Server.Port),
			zap.String("provider", e.ProviderName()),
			zap.String("data_dir", e.Config.DataDir))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return e.Run(gctx) })
		g.Go(func() error { return srv.ListenAndServe(gctx) })
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
