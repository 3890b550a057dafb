package main

import (
	"context"

	"scrape/internal/config"
	"scrape/internal/metrics"
	"scrape/internal/metrics/datadog"
	"scrape/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the function that
// flushes and detaches it.
func setupMetrics(ctx context.Context, cfg config.MetricsConfig) (func() error, error) {
	switch cfg.Backend {
	case config.MetricsDatadog:
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() error {
			metrics.SetBackend(nil)
			return b.Close()
		}, nil

	case config.MetricsPushgateway:
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() error {
			metrics.SetBackend(nil)
			return b.Close()
		}, nil

	default:
		metrics.SetBackend(nil)
		return func() error { return nil }, nil
	}
}
