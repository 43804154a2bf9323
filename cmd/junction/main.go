package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/junctionhq/junction/pkg/config"
	"github.com/junctionhq/junction/pkg/hub"
	"github.com/junctionhq/junction/pkg/log"
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
	Use:   "junction",
	Short: "Junction - local integration hub",
	Long: `Junction places external services under unified management:
registration with port conflict resolution, continuous health probing,
an event bus with webhook fan-out, and reversible deintegration that
preserves state for later re-integration.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Junction version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("hub", "http://127.0.0.1:7300", "Hub API address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(integrationCmd)
	rootCmd.AddCommand(deintegrationCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(scanCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub",
	Long: `Start the hub process: the integration registry, health prober,
event bus, webhook deliverer, deintegration manager, and the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		devMode, _ := cmd.Flags().GetBool("dev")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if devMode {
			cfg.DevelopmentMode = true
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

		h, err := hub.New(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := h.Start(ctx); err != nil {
			return err
		}

		// Hot-reload the log level on config file changes
		if configPath != "" {
			go func() {
				if err := config.Watch(ctx, configPath); err != nil {
					log.Warn("config watcher stopped: " + err.Error())
				}
			}()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() { errCh <- h.Wait() }()

		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
		case err := <-errCh:
			if err != nil {
				fmt.Fprintf(os.Stderr, "hub failed: %v\n", err)
			}
		}

		return h.Shutdown(15 * time.Second)
	},
}

func init() {
	serveCmd.Flags().String("config", "junction.yaml", "Path to the config file")
	serveCmd.Flags().Bool("dev", false, "Relax initial health probes for local development")
}
