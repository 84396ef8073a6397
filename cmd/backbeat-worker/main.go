package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/cmd"
	"github.com/satchwsm/backbeat/pkg/log"
	"github.com/satchwsm/backbeat/pkg/reconciler"
	"github.com/satchwsm/backbeat/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "backbeat-worker",
		EnableShellCompletion: true,
		Usage:                 "Perform due workflow events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Delayed job queue URL (redis://)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due jobs are claimed from the queue",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron schedule of the stale node sweep",
				Value:   reconciler.DefaultSchedule,
				Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "reconcile-grace",
				Usage:   "How long a node may stay started before it is re-dispatched",
				Value:   reconciler.DefaultGrace,
				Sources: cli.EnvVars("RECONCILE_GRACE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json, pretty)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("backbeat-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Backbeat Worker")

			engine, err := cmd.NewEngine(ctx, logger, cmd.EngineConfig{
				ServiceName:  "backbeat-worker",
				DatabaseURL:  command.String("database-url"),
				QueueURL:     command.String("queue-url"),
				EventBus:     command.String("event-bus"),
				KafkaBrokers: command.StringSlice("kafka-brokers"),
				Tracing:      command.Bool("tracing"),
			})
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			service := worker.NewService(engine.Server, engine.Queue, engine.Persistence.NodeRepository(),
				engine.Publisher, engine.Subscriber, engine.Metrics, logger, worker.Config{
					PollInterval:      command.Duration("poll-interval"),
					ReconcileSchedule: command.String("reconcile-schedule"),
					ReconcileGrace:    command.Duration("reconcile-grace"),
				})

			return service.Run(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
