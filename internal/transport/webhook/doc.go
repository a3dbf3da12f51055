/*
Package webhook relays output batches to an external HTTP endpoint.

# Overview

The dispatcher subscribes to the event bus and POSTs one JSON payload per
output batch to a configured URL. It exists for front-ends that prefer
push delivery over holding a WebSocket open.

# Delivery Semantics

Deliveries are best-effort and strictly decoupled from the producing
session: a dead or slow endpoint never blocks the output pipeline.

- Pacing: at most one send per configured interval (rate.Limiter)
- Retries: transient transport failures retry with backoff (resty)
- Breaker: after three consecutive failures the circuit opens and
  batches are skipped until the endpoint recovers
- Sanitizing: optional bluemonday UGC policy applied to chunk content

# Usage

	dispatcher, err := webhook.New(cfg.Webhook, bus, metrics, logger)
	if err != nil {
		return err
	}
	dispatcher.Start()
	defer dispatcher.Stop()
*/
package webhook
