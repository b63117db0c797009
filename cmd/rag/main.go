// Package main provides the rag CLI: the backend API, ingestion workers,
// one-off ingestion and deletion, store maintenance and the chat agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/rag-builder/internal/config"
	"github.com/bull/rag-builder/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app is the state shared by subcommands once the root pre-run has loaded it.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	shutdown   telemetry.Shutdown
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "rag",
		Short:         "Document ingestion and retrieval-augmented chat",
		Long:          "CLI for loading documents into a hybrid search store and answering questions over them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to YAML config (optional)")

	root.AddCommand(
		newServeCmd(a),
		newWorkerCmd(a),
		newIngestCmd(a),
		newDeleteCmd(a),
		newAskCmd(a),
		newOptimizeCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(a.logger)

	a.shutdown, err = telemetry.Setup(cmd.Context(), telemetry.Config{
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: "rag-" + cmd.Name(),
		Version:     version,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
