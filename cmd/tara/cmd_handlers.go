package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tara/internal/handler"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List registered handlers",
	RunE:  runHandlers,
}

func init() {
	rootCmd.AddCommand(handlersCmd)
}

func runHandlers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	for _, name := range handler.Names() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
