/*
Package resilience provides a circuit breaker for outbound delivery paths.

# Overview

This package implements the circuit breaker pattern so that a webhook
endpoint (or any other remote sink) that has gone unhealthy fails fast
instead of queueing up doomed attempts behind timeouts.

# Features

- Closed, open, and half-open phases with automatic movement between them
- Configurable trip condition and recovery timeout
- Generation tracking so stale results never corrupt fresh counts
- Bounded probing while half-open
- State change callback for logging and metrics
- Safe for concurrent use

# Usage

	breaker := resilience.New("webhook", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	err := breaker.Do(func() error {
		return client.Deliver(payload)
	})

# States

While closed, requests flow and failures are tallied; the trip condition
moves the breaker to open. While open, every request fails immediately
with ErrCircuitOpen until the timeout elapses. Half-open admits up to
MaxRequests probes: enough successes close the breaker, a single failure
reopens it.

	closed --trip--> open --timeout--> half-open --probes pass--> closed
	                  ^                    |
	                  +---- probe fails ---+
*/
package resilience
