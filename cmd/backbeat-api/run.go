package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/satchwsm/backbeat/pkg/cache"
	"github.com/satchwsm/backbeat/pkg/cmd"
	"github.com/satchwsm/backbeat/pkg/log"
	"github.com/satchwsm/backbeat/pkg/queue/redisqueue"
	"github.com/satchwsm/backbeat/pkg/web"
	"github.com/satchwsm/backbeat/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Backbeat API")

	engine, err := cmd.NewEngine(ctx, logger, cmd.EngineConfig{
		ServiceName:  "backbeat-api",
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

	var names web.NameLister

	if rq, ok := engine.Queue.(*redisqueue.Queue); ok {
		names = cache.NewNames(rq.Client(), engine.Server, command.Duration("names-ttl"), logger)
	}

	handlers := web.NewAPIHandlers(engine.Server, names, validator.New(validator.WithRequiredStructEnabled()), web.WithLogger(logger))
	app := web.NewApp(handlers, engine.Registry)

	errs := make(chan error, 2)

	if command.Bool("embedded-worker") {
		service := worker.NewService(engine.Server, engine.Queue, engine.Persistence.NodeRepository(),
			engine.Publisher, engine.Subscriber, engine.Metrics, logger, worker.Config{})

		go func() {
			errs <- service.Run(ctx)
		}()
	}

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	logger.InfoContext(ctx, "Backbeat API listening", "port", command.Int("port"))

	select {
	case <-ctx.Done():
	case err = <-errs:
		if err != nil {
			logger.ErrorContext(ctx, "Backbeat API failed", "error", err)
		}
	}

	shutdownErr := app.Shutdown()

	return errors.Join(err, shutdownErr)
}
