/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics records collector activity as OpenTelemetry instruments.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/carverauto/guestmem/pkg/metrics"

	metricFetchTotal        = "guestmem_fetch_total"
	metricFetchDuration     = "guestmem_fetch_duration_seconds"
	metricTickDuration      = "guestmem_tick_duration_seconds"
	metricActiveVMs         = "guestmem_active_vms"
	metricTransitionsTotal  = "guestmem_transitions_total"
	metricDiscoveryTotal    = "guestmem_discovery_runs_total"
	metricDiscoveredVMs     = "guestmem_discovered_vms"
	metricReconcileRemovals = "guestmem_reconcile_removed_total"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder holds the collector's instruments. A nil *Recorder records nothing.
type Recorder struct {
	fetchTotal       metric.Int64Counter
	fetchDuration    metric.Float64Histogram
	tickDuration     metric.Float64Histogram
	activeVMs        metric.Int64Gauge
	transitionsTotal metric.Int64Counter
	discoveryTotal   metric.Int64Counter
	discoveredVMs    metric.Int64Gauge
	reconcileRemoved metric.Int64Counter
}

// NewRecorder creates instruments on provider, or on the global provider when nil.
// Instrument creation errors go to otel.Handle and leave a no-op instrument.
func NewRecorder(provider metric.MeterProvider) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)
	r := &Recorder{}

	var err error

	if r.fetchTotal, err = meter.Int64Counter(metricFetchTotal,
		metric.WithDescription("Memory fetch attempts by outcome")); err != nil {
		otel.Handle(err)
	}

	if r.fetchDuration, err = meter.Float64Histogram(metricFetchDuration,
		metric.WithDescription("Duration of a single VM memory fetch"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}

	if r.tickDuration, err = meter.Float64Histogram(metricTickDuration,
		metric.WithDescription("Duration of one polling tick"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}

	if r.activeVMs, err = meter.Int64Gauge(metricActiveVMs,
		metric.WithDescription("VMs in the active set by health")); err != nil {
		otel.Handle(err)
	}

	if r.transitionsTotal, err = meter.Int64Counter(metricTransitionsTotal,
		metric.WithDescription("VM health state transitions")); err != nil {
		otel.Handle(err)
	}

	if r.discoveryTotal, err = meter.Int64Counter(metricDiscoveryTotal,
		metric.WithDescription("Discovery passes by outcome")); err != nil {
		otel.Handle(err)
	}

	if r.discoveredVMs, err = meter.Int64Gauge(metricDiscoveredVMs,
		metric.WithDescription("VMs returned by the last successful discovery pass")); err != nil {
		otel.Handle(err)
	}

	if r.reconcileRemoved, err = meter.Int64Counter(metricReconcileRemovals,
		metric.WithDescription("Published records removed by reconciliation")); err != nil {
		otel.Handle(err)
	}

	return r
}

// RecordFetch counts one fetch. kind is empty on success.
func (r *Recorder) RecordFetch(ctx context.Context, osFamily, transport, kind string, d time.Duration) {
	if r == nil {
		return
	}

	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeFailure
	}

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("os_family", osFamily),
		attribute.String("transport", transport),
		attribute.String("error_kind", kind),
	)

	if r.fetchTotal != nil {
		r.fetchTotal.Add(ctx, 1, attrs)
	}

	if r.fetchDuration != nil {
		r.fetchDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordTick records tick duration and the active set size split by health.
func (r *Recorder) RecordTick(ctx context.Context, d time.Duration, healthy, failed int) {
	if r == nil {
		return
	}

	if r.tickDuration != nil {
		r.tickDuration.Record(ctx, d.Seconds())
	}

	if r.activeVMs != nil {
		r.activeVMs.Record(ctx, int64(healthy), metric.WithAttributes(attribute.String("state", "healthy")))
		r.activeVMs.Record(ctx, int64(failed), metric.WithAttributes(attribute.String("state", "failed")))
	}
}

func (r *Recorder) RecordTransition(ctx context.Context, from, to string) {
	if r == nil || r.transitionsTotal == nil {
		return
	}

	r.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordDiscovery counts a discovery pass; found is only recorded on success.
func (r *Recorder) RecordDiscovery(ctx context.Context, err error, found int) {
	if r == nil {
		return
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}

	if r.discoveryTotal != nil {
		r.discoveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if err == nil && r.discoveredVMs != nil {
		r.discoveredVMs.Record(ctx, int64(found))
	}
}

func (r *Recorder) RecordReconcileRemovals(ctx context.Context, n int) {
	if r == nil || r.reconcileRemoved == nil || n == 0 {
		return
	}

	r.reconcileRemoved.Add(ctx, int64(n))
}
