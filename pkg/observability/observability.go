// Package observability wires OpenTelemetry tracing and metrics for the
// pipeline: one span per request, RED counters keyed by stage and deny
// code. Disabled by default so embedding the kernel costs nothing.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns a disabled configuration with sane endpoints.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "roundtree-kernel",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter metric.Int64Counter
	denyCounter    metric.Int64Counter
	durationHist   metric.Float64Histogram
}

// New creates a provider. A disabled config yields a provider whose
// record methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("roundtree.kernel",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("roundtree.kernel",
		metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.requestCounter, err = p.meter.Int64Counter("roundtree.requests.total",
		metric.WithDescription("Requests entering the pipeline"),
		metric.WithUnit("{request}"))
	if err != nil {
		return err
	}
	p.denyCounter, err = p.meter.Int64Counter("roundtree.denials.total",
		metric.WithDescription("Requests refused, by stage and code"),
		metric.WithUnit("{denial}"))
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("roundtree.request.duration",
		metric.WithDescription("End-to-end request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0))
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// StartSpan starts a span when enabled; otherwise it returns a no-op
// span from the global tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if p.tracer == nil {
		return otel.Tracer("roundtree.kernel").Start(ctx, name, opts...)
	}
	return p.tracer.Start(ctx, name, opts...)
}

// RecordRequest counts one pipeline entry.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDenial counts one refusal.
func (p *Provider) RecordDenial(ctx context.Context, stage, code string) {
	if p.denyCounter != nil {
		p.denyCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("code", code),
		))
	}
}

// RecordDuration records one end-to-end request duration.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.durationHist != nil {
		p.durationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}
