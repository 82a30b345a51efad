package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ewoutp/kiruna/pkg/api"
	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiruna",
	Short: "Kiruna - single-host container orchestration daemon",
	Long: `Kiruna keeps a Docker host converged on a declarative service manifest.

It watches the manifest for changes, reconciles running containers toward
the desired state, health-checks every container, restarts or replaces
failures, publishes endpoints into an etcd registry, and cleans up obsolete
containers and images.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Kiruna version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", config.Path(), "Path to the service manifest")
	rootCmd.Flags().String("status-addr", ":8765", "Listen address for the HTTP status endpoint")
	rootCmd.Flags().Bool("no-console", false, "Disable the interactive key console")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Setup(logLevel, logJSON, nil)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	statusAddr, _ := cmd.Flags().GetString("status-addr")
	noConsole, _ := cmd.Flags().GetBool("no-console")

	logger := log.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docker, err := engine.NewDocker()
	if err != nil {
		return err
	}
	eng := engine.Serialize(docker)
	defer eng.Close()

	sup := supervisor.New(ctx, cfgPath, Version, eng)
	if err := sup.Start(); err != nil {
		return fmt.Errorf("initial launch failed: %w", err)
	}
	defer sup.Shutdown()

	watcher, err := config.Watch(cfgPath, sup.ConfigChanged)
	if err != nil {
		logger.Error().Err(err).Msg("manifest watching disabled")
	} else {
		defer watcher.Close()
	}

	status := api.NewStatusServer(sup, Version)
	go func() {
		if err := status.Start(statusAddr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("status endpoint failed")
		}
	}()
	logger.Info().Str("addr", statusAddr).Msg("status endpoint listening")

	if !noConsole {
		go runConsole(sup, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	// Containers keep running across daemon restarts; the next start
	// rediscovers them from the engine.
	return nil
}
