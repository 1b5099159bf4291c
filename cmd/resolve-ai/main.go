package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "resolve-ai",
		Short:         "JSON-RPC gateway for a DaVinci Resolve editing agent",
		Long:          "resolve-ai runs an LLM-driven DaVinci Resolve agent behind a JSON-RPC 2.0 gateway with SSE streaming, and ships a client simulator for talking to it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default mcp_config.json)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
