package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0

	// defaultAttemptTimeout bounds a single runner attempt; nodes override it
	// with timeout_ms or timeout_seconds.
	defaultAttemptTimeout = 5 * time.Minute

	// retryHandoffDelay is the backoff length at which a worker stops
	// sleeping in place and parks the execution for the activator.
	retryHandoffDelay = 30 * time.Second
)

// retryPolicy is the per-node retry configuration. Only transient runner
// failures are retried; validation and permanent failures fail on the first
// attempt.
type retryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// retryPolicyFor reads the node's retry config, falling back to the engine
// defaults for anything unset.
func retryPolicyFor(node *models.WorkflowNode) retryPolicy {
	policy := retryPolicy{
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		Multiplier:      defaultMultiplier,
	}

	raw, ok := node.Config["retry"].(map[string]any)
	if !ok {
		return policy
	}

	if v := configInt(raw, "max_attempts", 0); v > 0 {
		policy.MaxAttempts = v
	}

	if v := configInt(raw, "initial_interval_ms", 0); v > 0 {
		policy.InitialInterval = time.Duration(v) * time.Millisecond
	}

	if v := configInt(raw, "max_interval_ms", 0); v > 0 {
		policy.MaxInterval = time.Duration(v) * time.Millisecond
	}

	if v, ok := raw["multiplier"].(float64); ok && v >= 1 {
		policy.Multiplier = v
	}

	return policy
}

// attemptTimeout resolves the per-attempt deadline from the node config.
func attemptTimeout(node *models.WorkflowNode) time.Duration {
	if v := configInt(node.Config, "timeout_ms", 0); v > 0 {
		return time.Duration(v) * time.Millisecond
	}

	if v := configInt(node.Config, "timeout_seconds", 0); v > 0 {
		return time.Duration(v) * time.Second
	}

	return defaultAttemptTimeout
}

// timeoutIsFatal reports whether the node treats a timed-out attempt as
// permanent instead of retryable.
func timeoutIsFatal(node *models.WorkflowNode) bool {
	v, _ := node.Config["on_timeout"].(string)

	return v == "fail"
}

// backOff builds the exponential backoff source for one node dispatch. The
// attempt cap is enforced by the dispatch loop, not the backoff.
func (p retryPolicy) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}
