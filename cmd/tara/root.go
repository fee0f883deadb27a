package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "tara",
		Short: "Trusted Advisor remediation handlers",
		Long: `Tara - Trusted Advisor remediation handlers

Tara reacts to Trusted Advisor findings: it snapshots and retires idle
EBS volumes, applies single-call fixes for common checks, tracks check
results into Systems Manager OpsItems and posts red-check digests.

Handlers run inside AWS Lambda ("tara serve") or from the command line
against a saved event ("tara invoke").`,
		Version:           version,
		PersistentPreRunE: setupLogging,
		SilenceUsage:      true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Tara {{.Version}} - Trusted Advisor remediation handlers
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (default: read the Lambda environment)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := "info"
	if debug {
		level = "debug"
	}
	telemetry.SetupLogging(level, isTerminal())
	return nil
}

// loadConfig reads path when set, otherwise the process environment.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnviron()
	}
	if err != nil {
		return nil, err
	}

	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// isTerminal reports whether stderr is an interactive terminal. Lambda
// output stays JSON.
func isTerminal() bool {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return false
	}
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
