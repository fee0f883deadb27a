package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tara/internal/responder"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage check to automation document mappings",
}

var mappingsImportCmd = &cobra.Command{
	Use:     "import <file.yaml>",
	Short:   "Load automation mappings from YAML into the mapping table",
	Example: `  tara mappings import mappings.yaml -c tara.toml`,
	Args:    cobra.ExactArgs(1),
	RunE:    runMappingsImport,
}

func init() {
	rootCmd.AddCommand(mappingsCmd)
	mappingsCmd.AddCommand(mappingsImportCmd)
}

func runMappingsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open mappings: %w", err)
	}
	defer func() { _ = f.Close() }()

	mappings, err := responder.LoadMappings(f)
	if err != nil {
		return err
	}

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

	home, err := a.pool.For(ctx, cfg.AWS.HomeRegion)
	if err != nil {
		return err
	}

	n, err := responder.ImportMappings(ctx, home.DynamoDB, cfg.Responder.MappingTable, mappings)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d mappings into %s\n", n, len(mappings), cfg.Responder.MappingTable)
	return err
}
