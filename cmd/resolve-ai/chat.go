package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yinglj/resolve-ai/pkg/client"
	"github.com/yinglj/resolve-ai/pkg/config"
)

// defaultAPIKey matches the key seeded into a fresh config, so chat works
// out of the box against a locally started gateway.
const defaultAPIKey = "sk-1234567890abcdef"

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive client simulator against a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = "http://" + config.DefaultListenAddr + "/rpc"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.New(serverURL, apiKey, timeout)
			repl := client.NewREPL(c, os.Stdin, os.Stdout)
			if err := repl.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "gateway /rpc URL (default http://"+config.DefaultListenAddr+"/rpc)")
	cmd.Flags().StringVarP(&apiKey, "api-key", "k", defaultAPIKey, "API key for the gateway")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	return cmd
}
