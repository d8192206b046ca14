package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/telemetry"
)

var (
	cfgFile      string
	logLevel     string
	topology     string
	seedMode     string
	manifestPath string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext
)

var rootCmd = &cobra.Command{
	Use:   "provisioner",
	Short: "SmartShopAI MongoDB provisioner",
	Long: `Provisioner prepares the SmartShopAI MongoDB deployment: it creates the
application principal, the collections and indexes every service expects,
and the seed documents, then announces completion.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&topology, "topology", "", "namespace layout: single-namespace or per-service-namespace")
	pf.StringVar(&seedMode, "seed-mode", "", "seed write mode: ensure or insert")
	pf.StringVar(&manifestPath, "manifest", "", "path to a manifest file (.yaml, .json or .jsonc); empty uses the built-in manifest")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogger(logLevel)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		} else if cfg.Telemetry.LogLevel != "" {
			initLogger(cfg.Telemetry.LogLevel)
		}

		if err := applyFlagOverrides(cmd, cfg); err != nil {
			return err
		}

		app, err = buildAppContext(cfg, announceWriter())
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}

		return nil
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(manifestCmd)
}

// applyFlagOverrides copies explicitly set bootstrap flags over the loaded
// configuration and re-validates it.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("topology") {
		c.Bootstrap.Topology = topology
	}
	if flags.Changed("seed-mode") {
		c.Bootstrap.SeedMode = seedMode
	}
	if flags.Changed("manifest") {
		c.Bootstrap.Manifest = manifestPath
	}
	if err := c.Bootstrap.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogger installs the default logger. Logs go to stderr so stdout
// carries only command output.
func initLogger(level string) {
	slog.SetDefault(telemetry.NewLogger(os.Stderr, level))
}
