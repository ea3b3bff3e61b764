package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "keybind/license"
	MeterName  = "keybind/license"
)

// BindingMetrics holds the activation metrics.
type BindingMetrics struct {
	ActivationRequests metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	StoreErrors        metric.Int64Counter
	StoreDuration      metric.Float64Histogram
	KeysInFlight       metric.Int64UpDownCounter
}

// InitializeBindingMetrics creates the activation metrics on meter.
func InitializeBindingMetrics(meter metric.Meter) (*BindingMetrics, error) {
	metrics := &BindingMetrics{}

	var err error

	metrics.ActivationRequests, err = meter.Int64Counter(
		"activation_requests_total",
		metric.WithDescription("Total number of activation requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation requests counter: %w", err)
	}

	metrics.ActivationDuration, err = meter.Float64Histogram(
		"activation_duration_seconds",
		metric.WithDescription("Activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	metrics.StoreErrors, err = meter.Int64Counter(
		"activation_store_errors_total",
		metric.WithDescription("Total number of binding store failures by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	metrics.StoreDuration, err = meter.Float64Histogram(
		"activation_store_duration_seconds",
		metric.WithDescription("Binding store call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	metrics.KeysInFlight, err = meter.Int64UpDownCounter(
		"activation_keys_in_flight",
		metric.WithDescription("Number of activation requests holding or waiting on a key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys in flight gauge: %w", err)
	}

	return metrics, nil
}

// resultLabel is the outcome label used for metrics and spans, including
// the two error classes.
func resultLabel(res Result, err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case err != nil:
		return "store_unavailable"
	default:
		return res.Outcome.String()
	}
}

func (b *Binder) recordActivation(ctx context.Context, span trace.Span, res Result, err error, duration time.Duration) {
	label := resultLabel(res, err)

	if b.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("outcome", label))
		b.metrics.ActivationRequests.Add(ctx, 1, attrs)
		b.metrics.ActivationDuration.Record(ctx, duration.Seconds(), attrs)
	}

	span.SetAttributes(
		attribute.String("binding.outcome", label),
		attribute.Float64("binding.duration_ms", float64(duration.Milliseconds())),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (b *Binder) recordStoreCall(ctx context.Context, op string, err error, duration time.Duration) {
	if b.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op))
	b.metrics.StoreDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil && !errors.Is(err, ErrAlreadyBound) && !errors.Is(err, ErrNotFound) {
		b.metrics.StoreErrors.Add(ctx, 1, attrs)
	}
}
