// Package main provides the Synthralos execution worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/weblisite/synthralos-engine/pkg/cmd"
	"github.com/weblisite/synthralos-engine/pkg/engine"
	"github.com/weblisite/synthralos-engine/pkg/log"
	"github.com/weblisite/synthralos-engine/pkg/signals"
	trc "github.com/weblisite/synthralos-engine/pkg/tracer"
)

func main() {
	app := &cli.Command{
		Name:                  "synthralos-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to run queued executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the shared signal store (in-memory when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := trc.InitTracer(ctx, "synthralos-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger := log.WithModule("worker")
			logger.InfoContext(ctx, "Initializing Synthralos Worker")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			bus, err := cmd.NewEventBus(command.String("event-bus"), "synthralos-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var signalStore signals.Store
			if addr := command.String("redis-addr"); addr != "" {
				signalStore, err = signals.NewRedisStore(ctx, logger, addr, os.Getenv("REDIS_PASSWORD"), 0)
				if err != nil {
					return fmt.Errorf("failed to connect to Redis: %w", err)
				}
			}

			reg := cmd.NewRegistry(logger)
			eng := engine.New(logger, persist, reg, bus, signalStore)

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := eng.RegisterHandlers(runCtx); err != nil {
				return err
			}

			logger.InfoContext(runCtx, "Worker consuming", "worker_id", eng.WorkerID())

			if err := bus.Subscribe(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()
			logger.Info("Worker shutting down")

			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
