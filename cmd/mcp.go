package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "github.com/ziadkadry99/cadence/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long: `Starts a Model Context Protocol (MCP) server on stdio, exposing capture,
context, memory and governor tools to AI agents. The background scheduler
runs alongside it. Logs go to stderr so stdout stays a clean protocol stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, logger, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		defer logger.Sync()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- e.Run(ctx) }()

		mcpserver.Version = Version
		fmt.Fprintf(os.Stderr, "cadence MCP server started on stdio (provider=%s)\n", e.ProviderName())

		serveErr := mcpserver.NewServer(e).Serve()
		cancel()
		if err := <-done; err != nil {
			logger.Error("engine stopped with error", zap.Error(err))
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
