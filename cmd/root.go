package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/cadence/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Commitment and context engine for a personal assistant",
	Long: `Cadence captures what you say you will do, keeps tasks, reminders and
commitments in a local store, remembers what you were doing when you got
interrupted, and notices work that has gone quiet. It serves agents over
HTTP and MCP.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
