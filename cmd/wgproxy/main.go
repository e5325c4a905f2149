// Command wgproxy runs the stateful UDP relay described in the package
// documentation for wgproxy/internal/relay. Configuration is entirely
// environment-driven (§6); there are no subcommands or flags beyond
// --version.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"wgproxy/internal/banner"
	"wgproxy/internal/buildinfo"
	"wgproxy/internal/config"
	"wgproxy/internal/logging"
	"wgproxy/internal/relay"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code per §6/§7: 1 for a configuration
// error, 2 for a fatal I/O error on the client-facing socket, 1 for any
// other error Execute reports, 0 otherwise.
func run() int {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	exitCode := 0
	cmd := rootCmd(&exitCode)
	if err := cmd.Execute(); err != nil {
		slog.Error("wgproxy exited with error", "err", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func rootCmd(exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wgproxy",
		Short:         "Stateful UDP relay for WireGuard handshake-triggered flows",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Configure(logging.LevelInfo)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), exitCode)
		},
	}
	return cmd
}

func runProxy(ctx context.Context, exitCode *int) error {
	cfg, err := config.Load()
	if err != nil {
		*exitCode = 1
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Configure(cfg.LogLevel)

	engine, err := relay.New(cfg)
	if err != nil {
		*exitCode = 2
		return fmt.Errorf("bind client-facing socket: %w", err)
	}

	banner.Startup(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dump := make(chan os.Signal, 1)
	signal.Notify(dump, syscall.SIGUSR1)
	defer signal.Stop(dump)
	go watchFlowDumpSignal(ctx, dump, engine)

	if err := engine.Run(ctx); err != nil {
		*exitCode = 2
		return fmt.Errorf("relay stopped: %w", err)
	}
	return nil
}

func watchFlowDumpSignal(ctx context.Context, dump <-chan os.Signal, engine *relay.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dump:
			banner.FlowDump(os.Stderr, engine.Snapshot(time.Now()))
		}
	}
}
