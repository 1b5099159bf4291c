package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
	"github.com/yinglj/resolve-ai/pkg/config"
	debughttp "github.com/yinglj/resolve-ai/pkg/http"
	"github.com/yinglj/resolve-ai/pkg/logger"
	"github.com/yinglj/resolve-ai/pkg/query"
	"github.com/yinglj/resolve-ai/pkg/rpc"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		listen    string
		debugAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listen, debugAddr)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&debugAddr, "http", "", "enable HTTP debug server on specified address (e.g., ':6060')")
	return cmd
}

func runServe(listen, debugAddr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	log, err := cfg.Log.CreateLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	factory := func(ctx context.Context) (agentexec.Runner, error) {
		return agentexec.New(ctx, cfg, log)
	}
	proc := query.NewProcessor(factory, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup fails hard when the agent cannot be built; a gateway with
	// no agent behind it only ever answers "not connected".
	if err := proc.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	defer proc.Cleanup()

	srv := rpc.NewServer(cfg, proc, log)
	srv.SetConnected(true)

	if debugAddr != "" {
		go runDebugServer(debugAddr, proc, log)
	}

	fmt.Printf("resolve-ai gateway listening on http://%s/rpc\n", cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// runDebugServer serves pprof and gateway metrics on a side address.
func runDebugServer(addr string, proc *query.Processor, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debughttp.NewMetricsHandler(proc).RegisterRoutes(mux)

	log.Info("debug server listening on %s (pprof, /debug/metrics)", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("debug server error: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
