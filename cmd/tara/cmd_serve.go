package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"

	"github.com/yairfalse/tara/internal/handler"
	"github.com/yairfalse/tara/internal/lifecycle"
)

// handlerEnv names the handler a Lambda function serves.
const handlerEnv = "TARA_HANDLER"

var serveCmd = &cobra.Command{
	Use:   "serve [handler]",
	Short: "Serve a handler as an AWS Lambda function",
	Long: `Start the Lambda runtime loop for one handler.

The handler is taken from the argument, then from $TARA_HANDLER, and
defaults to the idle EBS volume lifecycle. Configuration is read from
the Lambda environment unless --config is given.`,
	Example: `  tara serve                       # Idle EBS volume lifecycle
  tara serve rds-idle              # Idle RDS instances
  TARA_HANDLER=ta-result tara serve`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	name := handlerName(args, os.Getenv(handlerEnv))

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

	h, ok := handler.Get(name)
	if !ok {
		return fmt.Errorf("unknown handler %q (registered: %v)", name, handler.Names())
	}

	log.Info().Str("handler", name).Str("home_region", cfg.AWS.HomeRegion).Msg("tara serving")

	fn := func(ctx context.Context, raw json.RawMessage) (any, error) {
		return a.runner.Run(ctx, h, raw)
	}
	lambda.Start(otellambda.InstrumentHandler(fn,
		otellambda.WithTracerProvider(a.provider.TracerProvider()),
		otellambda.WithFlusher(a.provider),
	))
	return nil
}

// handlerName picks the served handler: argument, then environment, then
// the volume lifecycle.
func handlerName(args []string, fromEnv string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if fromEnv != "" {
		return fromEnv
	}
	return lifecycle.HandlerName
}
