package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const banner = `
╔══════════════════════════════════════╗
║     P2P Arbitrage Ledger v0.3        ║
║                                      ║
╚══════════════════════════════════════╝
`

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "p2p-ledger",
		Short:        "Telegram bot that records P2P arbitrage trades",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file (env and .env still apply)")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), summaryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
