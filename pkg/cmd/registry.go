// Package cmd provides shared initialization for the service binaries.
package cmd

import (
	"log/slog"

	"github.com/weblisite/synthralos-engine/pkg/registry"
	"github.com/weblisite/synthralos-engine/pkg/runners/httprequest"
	logrunner "github.com/weblisite/synthralos-engine/pkg/runners/log"
	"github.com/weblisite/synthralos-engine/pkg/runners/setvariable"
	"github.com/weblisite/synthralos-engine/pkg/runners/transform"
	"github.com/weblisite/synthralos-engine/pkg/triggers/kafka"
	"github.com/weblisite/synthralos-engine/pkg/triggers/schedule"
	"github.com/weblisite/synthralos-engine/pkg/triggers/webhook"
)

// NewRegistry builds a registry with the native runners registered. Trigger
// factories are added separately because the webhook factory needs the
// shared listener.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	registerNativeRunners(reg, logger)

	return reg
}

// RegisterNativeTriggers adds the built-in front door factories.
func RegisterNativeTriggers(reg *registry.Registry, webhookServer *webhook.ServerManager) {
	reg.RegisterTrigger(webhook.NewTriggerFactory(webhookServer))
	reg.RegisterTrigger(schedule.NewTriggerFactory())
	reg.RegisterTrigger(kafka.NewTriggerFactory())
}

func registerNativeRunners(reg *registry.Registry, logger *slog.Logger) {
	reg.RegisterRunner(httprequest.NewRunnerFactory())
	reg.RegisterRunner(logrunner.NewRunnerFactory(logger))
	reg.RegisterRunner(transform.NewRunnerFactory())
	reg.RegisterRunner(setvariable.NewRunnerFactory())
}
