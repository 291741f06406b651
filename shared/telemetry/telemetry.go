// Package telemetry wires OpenTelemetry tracing and metrics for the
// orchestrator. Traces and metrics ship over OTLP; metrics are also
// registered with the Prometheus reader behind the /metrics endpoint.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	traceSDK "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 5 * time.Second

// Config identifies the service to the collector
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// Telemetry carries the tracer and meter that request contexts hand to
// the recording helpers below.
type Telemetry struct {
	tracer      trace.Tracer
	meter       metric.Meter
	serviceName string
}

// Init installs the global OTel providers and returns the telemetry
// handle plus a shutdown function that flushes both pipelines.
func Init(ctx context.Context, config Config) (*Telemetry, func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	traceProvider, stopTracing, err := newTraceProvider(ctx, res, config.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}

	meterProvider, stopMetrics, err := newMeterProvider(ctx, res, config.OTLPEndpoint)
	if err != nil {
		stopTracing()
		return nil, nil, err
	}

	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tel := &Telemetry{
		tracer:      otel.Tracer(config.ServiceName),
		meter:       otel.Meter(config.ServiceName),
		serviceName: config.ServiceName,
	}

	shutdown := func() {
		stopTracing()
		stopMetrics()
	}
	return tel, shutdown, nil
}

func newTraceProvider(ctx context.Context, res *resource.Resource, otlpEndpoint string) (trace.TracerProvider, func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlpEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	provider := traceSDK.NewTracerProvider(
		traceSDK.WithBatcher(exporter),
		traceSDK.WithResource(res),
		traceSDK.WithSampler(traceSDK.AlwaysSample()),
	)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		provider.Shutdown(ctx)
	}
	return provider, stop, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, otlpEndpoint string) (metric.MeterProvider, func(), error) {
	prometheusReader, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	otlpExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(otlpEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	provider := metricSDK.NewMeterProvider(
		metricSDK.WithResource(res),
		metricSDK.WithReader(prometheusReader),
		metricSDK.WithReader(metricSDK.NewPeriodicReader(otlpExporter,
			metricSDK.WithInterval(30*time.Second),
		)),
	)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		provider.Shutdown(ctx)
	}
	return provider, stop, nil
}

type contextKey struct{}

// WithTelemetry injects the telemetry handle into a request context
func WithTelemetry(ctx context.Context, tel *Telemetry) context.Context {
	return context.WithValue(ctx, contextKey{}, tel)
}

// FromContext returns the telemetry handle, or nil outside a request
func FromContext(ctx context.Context) *Telemetry {
	if tel, ok := ctx.Value(contextKey{}).(*Telemetry); ok {
		return tel
	}
	return nil
}

// StartSpan starts a span on the context's tracer. Outside a request
// context it falls through to the global tracer, which is a no-op until
// Init has run.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tel := FromContext(ctx); tel != nil {
		return tel.tracer.Start(ctx, name, opts...)
	}
	return otel.Tracer("orchestrator").Start(ctx, name, opts...)
}

// RecordCounter adds value to a counter, tagged with the service name
func RecordCounter(ctx context.Context, name, description string, value int64, attrs ...attribute.KeyValue) {
	counter, err := meterFor(ctx).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return
	}
	attrs = append(attrs, attribute.String("service", serviceFor(ctx)))
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// RecordHistogram records one observation, tagged with the service name
func RecordHistogram(ctx context.Context, name, description string, value float64, attrs ...attribute.KeyValue) {
	histogram, err := meterFor(ctx).Float64Histogram(name, metric.WithDescription(description))
	if err != nil {
		return
	}
	attrs = append(attrs, attribute.String("service", serviceFor(ctx)))
	histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

func meterFor(ctx context.Context) metric.Meter {
	if tel := FromContext(ctx); tel != nil {
		return tel.meter
	}
	return otel.Meter("orchestrator")
}

func serviceFor(ctx context.Context) string {
	if tel := FromContext(ctx); tel != nil {
		return tel.serviceName
	}
	return "orchestrator"
}
