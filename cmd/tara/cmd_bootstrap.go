package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var bootstrapRegions []string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the snapshot completion plumbing in regions",
	Long: `Create, in each region, the SNS topic, EventBridge rule and Lambda
permission that deliver snapshot completion events to the home-region
function. The lifecycle does this on demand; bootstrap does it ahead of
time. Existing resources are left in place.`,
	Example: `  tara bootstrap --region us-west-2
  tara bootstrap --region eu-west-1,eu-central-1`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringSliceVarP(&bootstrapRegions, "region", "r", nil, "Regions to bootstrap")
	_ = bootstrapCmd.MarkFlagRequired("region")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	failed := 0
	for _, region := range bootstrapRegions {
		if err := a.bootstrap.EnsureRegion(ctx, region); err != nil {
			fmt.Fprintf(out, "  %s: failed: %v\n", region, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  %s: ready\n", region)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d regions failed", failed, len(bootstrapRegions))
	}
	return nil
}
