// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package ratelimit centralizes the agent's response to upstream rate
// limiting: flood-wait pauses, transient-error backoff, a hard cap on
// underlying calls per operation, and a circuit breaker that trips when
// the upstream keeps failing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
)

const (
	// maxCalls caps the underlying RPC invocations for one logical
	// operation, counting the initial attempt and every retry.
	maxCalls = 4

	// floodRetryBudget is the number of flood-wait retries per
	// operation. Exceeding it surfaces the flood-wait error.
	floodRetryBudget = 3

	// transientBackoffBase doubles per transient retry: 5s, 10s, 20s.
	transientBackoffBase = 5 * time.Second
)

// SleepFunc pauses for d or until ctx is done. Injectable so tests run
// without real waits.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the production SleepFunc. The timer is stopped on
// cancellation so long flood waits do not leak.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Driver executes upstream calls with flood-wait handling, transient
// backoff, and circuit breaking. A single Driver is shared by every
// component that talks to the upstream.
type Driver struct {
	breaker *gobreaker.CircuitBreaker[any]
	sleep   SleepFunc
}

// NewDriver creates a Driver with the production sleep function.
//
// Breaker settings: the upstream throttles aggressively, so the breaker
// wraps the whole retry loop of one logical operation and only sees its
// final outcome. Flood waits and transient errors the loop absorbs
// within budget end in success and never count as failures; the breaker
// opens on sustained hard failure only (60% of at least 10 operations).
func NewDriver() *Driver {
	name := "chat-upstream"
	metrics.BreakerState.WithLabelValues(name).Set(0)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not upstream health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Driver{breaker: breaker, sleep: sleepWithContext}
}

// SetSleep replaces the sleep function. Test hook.
func (d *Driver) SetSleep(sleep SleepFunc) {
	d.sleep = sleep
}

// Do runs fn until it succeeds, its error is fatal, or a retry budget
// runs out. Callers capture results in the closure.
//
// Flood-wait errors pause for the upstream's hinted seconds and retry,
// up to floodRetryBudget times. Transient errors back off exponentially
// starting at transientBackoffBase. Across both categories fn is
// invoked at most maxCalls times.
func (d *Driver) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.runWithRetries(ctx, operation, fn)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.BreakerRejections.WithLabelValues("chat-upstream").Inc()
		return fmt.Errorf("upstream circuit open for %s: %w", operation, err)
	}
	return err
}

// runWithRetries is the retry loop for one logical operation. It runs
// inside a single breaker execution, so retries it absorbs are invisible
// to the breaker; only the returned outcome is recorded.
func (d *Driver) runWithRetries(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	floodRetries := 0
	transientRetries := 0

	for calls := 1; calls <= maxCalls; calls++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if flood, ok := chat.AsFloodWait(err); ok {
			if floodRetries >= floodRetryBudget || calls == maxCalls {
				metrics.RetriesExhausted.WithLabelValues(operation).Inc()
				return fmt.Errorf("flood-wait budget exhausted for %s: %w", operation, err)
			}
			floodRetries++
			wait := time.Duration(flood.Seconds) * time.Second
			metrics.FloodWaits.WithLabelValues(operation).Inc()
			logging.Warn().
				Str("operation", operation).
				Int("seconds", flood.Seconds).
				Int("retry", floodRetries).
				Msg("Flood wait, pausing before retry")
			if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if chat.IsTransient(err) {
			if calls == maxCalls {
				metrics.RetriesExhausted.WithLabelValues(operation).Inc()
				return fmt.Errorf("retry budget exhausted for %s: %w", operation, err)
			}
			wait := transientBackoffBase << transientRetries
			transientRetries++
			metrics.TransientRetries.WithLabelValues(operation).Inc()
			logging.Warn().
				Err(err).
				Str("operation", operation).
				Dur("backoff", wait).
				Msg("Transient upstream error, backing off")
			if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		// Fatal: auth failures, bad requests, anything unclassified.
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	// Unreachable: every failure path above returns before the call
	// budget is exceeded.
	return fmt.Errorf("retry budget exhausted for %s after %d calls", operation, maxCalls)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
