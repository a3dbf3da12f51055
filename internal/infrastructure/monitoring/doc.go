/*
Package monitoring collects Prometheus metrics for every bridge surface.

# Overview

This package tracks HTTP requests, session lifecycle, child process
health, the output pipeline, and webhook delivery, and keeps a small
mirror of the hot counters for the JSON stats API.

# Features

- HTTP request metrics (latency, sizes, status)
- Session lifecycle metrics (created, terminated by reason, active)
- Child process metrics (exits, restarts, command acceptance)
- Output pipeline metrics (flushed batches, emitted chunks)
- WebSocket connection metrics
- Webhook delivery metrics
- Rolling latency window with gonum quantiles for the JSON stats API

# Usage

	// Register collectors once at startup
	metrics := monitoring.NewMetrics()

	// Record every HTTP request
	router.Use(monitoring.Middleware(metrics))

	// Record lifecycle events
	metrics.IncSessionsCreated()
	metrics.RecordBatch(len(chunks))

	// Time a component call
	timer := monitoring.NewTimer(metrics, "workspace", "inspect")
	// ... inspect the workspace ...
	timer.Stop("success")

# Metrics Endpoint

The scrape endpoint is the stock Prometheus handler:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
