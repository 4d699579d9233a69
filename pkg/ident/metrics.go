package ident

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName                = "provisiond.ident"
	metricRequestsTotal      = "ident_requests_total"
	metricAutoAddedTotal     = "ident_auto_added_devices_total"
	metricRemoteRefreshTotal = "ident_remote_state_refresh_total"
)

var (
	// instrumentation handles are cached globally to avoid re-registering OTEL instruments on every call.
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	requestCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	autoAddedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	remoteRefreshCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	requests, err := meter.Int64Counter(
		metricRequestsTotal,
		metric.WithDescription("Total identification requests processed"),
	)
	if err != nil {
		otel.Handle(err)
	}
	requestCounter = requests

	added, err := meter.Int64Counter(
		metricAutoAddedTotal,
		metric.WithDescription("Total devices created automatically during identification"),
	)
	if err != nil {
		otel.Handle(err)
	}
	autoAddedCounter = added

	refreshes, err := meter.Int64Counter(
		metricRemoteRefreshTotal,
		metric.WithDescription("Total remote state trigger refreshes"),
	)
	if err != nil {
		otel.Handle(err)
	}
	remoteRefreshCounter = refreshes
}

// recordRequest increments the request counter, tagged with the request
// transport and outcome.
func recordRequest(ctx context.Context, requestType RequestType, outcome string) {
	meterOnce.Do(initMeter)
	if requestCounter == nil {
		return
	}

	requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request_type", string(requestType)),
		attribute.String("outcome", outcome),
	))
}

// recordAutoAddedDevice increments the auto-registration counter.
func recordAutoAddedDevice(ctx context.Context) {
	meterOnce.Do(initMeter)
	if autoAddedCounter == nil {
		return
	}

	autoAddedCounter.Add(ctx, 1)
}

// recordRemoteStateRefresh increments the remote state refresh counter.
func recordRemoteStateRefresh(ctx context.Context) {
	meterOnce.Do(initMeter)
	if remoteRefreshCounter == nil {
		return
	}

	remoteRefreshCounter.Add(ctx, 1)
}
