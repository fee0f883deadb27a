package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var invokeEvent string

var invokeCmd = &cobra.Command{
	Use:   "invoke <handler>",
	Short: "Run a handler once against a saved event",
	Long: `Run one handler against an event read from a file or stdin and print
the result as JSON. Useful for replaying EventBridge, SNS or DynamoDB
stream payloads captured from a real account.`,
	Example: `  tara invoke ebs-idle-volume --event check.json
  tara invoke ta-red-digest --event - < digest.json
  tara invoke eip-release -c tara.toml --event eip.json`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeEvent, "event", "e", "-", "Event file, or - for stdin")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	raw, err := readEvent(invokeEvent, cmd.InOrStdin())
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

	result, err := a.runner.Invoke(ctx, args[0], raw)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// readEvent loads a JSON event from path, or from stdin when path is "-".
func readEvent(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("read event: %s is not valid JSON", path)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
