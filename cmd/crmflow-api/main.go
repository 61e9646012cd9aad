package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/crmflow/pkg/canvas"
	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/seed"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "crmflow-api",
		Usage:                 "Edit CRM automation workflows and simulate their runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Workflow store URL (memory://, file://<dir>, postgres://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "history-url",
				Usage:   "Run history URL (memory:// or redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("HISTORY_URL"),
			},
			&cli.IntFlag{
				Name:    "history-size",
				Usage:   "Number of runs kept in the history",
				Value:   history.DefaultSize,
				Sources: cli.EnvVars("HISTORY_SIZE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers used by the kafka event bus",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "editor-idle-timeout",
				Usage:   "Close editing sessions unused for this long (0 keeps them)",
				Value:   canvas.DefaultIdleTimeout,
				Sources: cli.EnvVars("EDITOR_IDLE_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-editors",
				Usage:   "Maximum open editing sessions (0 for no limit)",
				Value:   canvas.DefaultMaxSessions,
				Sources: cli.EnvVars("MAX_EDITORS"),
			},
			&cli.BoolFlag{
				Name:    "seed",
				Usage:   "Load the sample workflows and runs into the in-memory stores",
				Value:   true,
				Sources: cli.EnvVars("SEED"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	ctx = log.WithContext(ctx, logger)
	logger.InfoContext(ctx, "Initializing crmflow API")

	var tracer trace.Tracer

	if command.Bool("otel") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "crmflow-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = t
	}

	data := &seed.Data{}

	if command.Bool("seed") {
		loaded, err := seed.Default(time.Now())
		if err != nil {
			return err
		}

		data = loaded
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), data.Workflows)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	runHistory, err := cmd.NewHistory(ctx, logger, command.String("history-url"), command.Int("history-size"))
	if err != nil {
		return err
	}

	defer func() {
		if err := runHistory.Close(); err != nil {
			logger.Error("Failed to close run history", "error", err)
		}
	}()

	if command.Bool("seed") && command.String("history-url") == "memory://" {
		if err := cmd.SeedHistory(ctx, runHistory, data.Runs); err != nil {
			return err
		}
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	api := NewAPI(logger, persistence, runHistory, eventBus, tracer,
		canvas.WithIdleTimeout(command.Duration("editor-idle-timeout")),
		canvas.WithMaxSessions(command.Int("max-editors")),
	)

	return api.Start(ctx, command.Int("port"))
}
