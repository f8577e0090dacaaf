// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// metricsProvider bundles the meter provider handed to the service with the
// HTTP handler that exposes it.
type metricsProvider struct {
	meterProvider metric.MeterProvider
	handler       http.Handler
	shutdown      func(context.Context) error
}

// newMetricsProvider builds a Prometheus-backed meter provider on a private
// registry. When metrics are disabled it returns a noop provider and a nil handler.
func newMetricsProvider(cfg MetricsConfig) (*metricsProvider, error) {
	if !cfg.Enabled {
		return &metricsProvider{
			meterProvider: noop.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	otel.SetLogger(logger.NewLogr())

	registry := prometheus.NewRegistry()
	if cfg.IncludeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &metricsProvider{
		meterProvider: mp,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown:      mp.Shutdown,
	}, nil
}

// observeMemoryStorage reports in-memory record counts as a gauge. Other
// backends are left to their own tooling.
func observeMemoryStorage(mp metric.MeterProvider, stor storage.Storage) error {
	mem, ok := stor.(*storage.MemoryStorage)
	if !ok {
		return nil
	}

	_, err := mp.Meter("github.com/sentinovo/carbuildervin-auth/cmd/authserver").Int64ObservableGauge(
		"authserver_memory_records",
		metric.WithDescription("Records held by the in-memory storage backend"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			st := mem.Stats()
			for record, n := range map[string]int{
				"client":             st.Clients,
				"grant":              st.Grants,
				"authorization_code": st.AuthorizationCodes,
				"refresh_token":      st.RefreshTokens,
				"pending_consent":    st.PendingConsents,
			} {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("record", record)))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory storage gauge: %w", err)
	}
	return nil
}
