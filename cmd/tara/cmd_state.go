package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/store"
)

var stateOutput string

var stateCmd = &cobra.Command{
	Use:   "state [volume-id]",
	Short: "List idle volume lifecycle records",
	Long: `List the lifecycle records kept by the state store, or only the
records of one volume. Only stores that can enumerate records (the
local bolt store) are supported.`,
	Example: `  tara state -c tara.toml
  tara state vol-0abc123 -c tara.toml --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVarP(&stateOutput, "output", "o", "table", "Output format: table, json")
}

func runState(cmd *cobra.Command, args []string) error {
	if stateOutput != "table" && stateOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: table, json)", stateOutput)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Store.Backend != config.BackendBolt {
		return fmt.Errorf("store backend %q cannot list records", cfg.Store.Backend)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Store, nil, cfg.AWS.HomeRegion)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	lister, ok := st.(store.Lister)
	if !ok {
		return fmt.Errorf("store backend %q cannot list records", cfg.Store.Backend)
	}
	records, err := lister.ListVolumes(ctx)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		records = filterVolume(records, args[0])
	}

	if stateOutput == "json" {
		return printJSON(cmd.OutOrStdout(), records)
	}
	printRecords(cmd.OutOrStdout(), records)
	return nil
}

// printRecords writes records as a table, most recently updated first.
func printRecords(out io.Writer, records []store.VolumeRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No lifecycle records.")
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tVOLUME\tSTATE\tDELETE\tSNAPSHOT\tUPDATED\tREASON")
	for _, r := range records {
		snap := r.SnapshotID
		if snap == "" {
			snap = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			r.Region, r.VolumeID, r.State, r.DeleteAuthorized, snap,
			r.UpdatedAt.UTC().Format(time.RFC3339), r.Reason)
	}
	_ = w.Flush()
}

func filterVolume(records []store.VolumeRecord, volumeID string) []store.VolumeRecord {
	var out []store.VolumeRecord
	for _, r := range records {
		if r.VolumeID == volumeID {
			out = append(out, r)
		}
	}
	return out
}
