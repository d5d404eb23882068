// Package main provides the Synthralos trigger service. It runs the front
// doors (webhooks, schedules, Kafka topics) for published workflows and
// starts executions when they fire.
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
	trc "github.com/weblisite/synthralos-engine/pkg/tracer"
	"github.com/weblisite/synthralos-engine/pkg/triggers"
	"github.com/weblisite/synthralos-engine/pkg/triggers/webhook"
)

const defaultWebhookPort = 8085

func main() {
	app := &cli.Command{
		Name:                  "synthralos-trigger",
		Usage:                 "Run workflow front doors for published workflows",
		EnableShellCompletion: true,
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
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the shared webhook listener",
				Value:   defaultWebhookPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
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

			tracerProvider, err := trc.InitTracer(ctx, "synthralos-trigger")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger := log.WithModule("trigger")
			logger.InfoContext(ctx, "Initializing Synthralos Trigger service")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			bus, err := cmd.NewEventBus(command.String("event-bus"), "synthralos-trigger", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			webhookServer := webhook.NewServerManager(command.Int("webhook-port"), logger)

			reg := cmd.NewRegistry(logger)
			cmd.RegisterNativeTriggers(reg, webhookServer)

			eng := engine.New(logger, persist, reg, bus, nil)
			manager := triggers.NewManager(logger, persist, reg, eng)

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return manager.Run(runCtx)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
