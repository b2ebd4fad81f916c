// Package observability provides OpenTelemetry metrics for the admission
// engine: verification throughput and denials, band transitions, drift and
// tag-confidence distributions, and evaluation latency.
//
// A nil or disabled Provider is a no-op on every recording method, so the
// engine never depends on a metrics sink being present.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OpenTelemetry metric provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the metric provider and the engine's instruments.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	verifications   metric.Int64Counter
	bandTransitions metric.Int64Counter
	tagsDetected    metric.Int64Counter
	driftScore      metric.Float64Histogram
	tagConfidence   metric.Float64Histogram
	verifyDuration  metric.Float64Histogram
}

// New creates an observability provider. With config.Enabled false (or a
// nil config defaulting so), the provider records nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("warden.admission",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)

	return p, nil
}

// Noop returns a provider that records nothing. Useful default for hosts
// without a metrics sink.
func Noop() *Provider {
	return &Provider{config: &Config{Enabled: false}, logger: slog.Default()}
}

func (p *Provider) initInstruments() error {
	var err error

	p.verifications, err = p.meter.Int64Counter("warden.verifications.total",
		metric.WithDescription("Plan verifications by result and reason class"),
	)
	if err != nil {
		return err
	}

	p.bandTransitions, err = p.meter.Int64Counter("warden.band.transitions",
		metric.WithDescription("Guardian band transitions by (from, to, trigger)"),
	)
	if err != nil {
		return err
	}

	p.tagsDetected, err = p.meter.Int64Counter("warden.tags.detected",
		metric.WithDescription("Safety tags detected by name and category"),
	)
	if err != nil {
		return err
	}

	p.driftScore, err = p.meter.Float64Histogram("warden.drift.score",
		metric.WithDescription("Distribution of computed drift scores"),
	)
	if err != nil {
		return err
	}

	p.tagConfidence, err = p.meter.Float64Histogram("warden.tag.confidence",
		metric.WithDescription("Distribution of safety tag confidences"),
	)
	if err != nil {
		return err
	}

	p.verifyDuration, err = p.meter.Float64Histogram("warden.verify.duration",
		metric.WithDescription("Verification latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

func (p *Provider) enabled() bool {
	return p != nil && p.config != nil && p.config.Enabled && p.verifications != nil
}

// RecordVerification counts one verification call.
func (p *Provider) RecordVerification(ctx context.Context, allowed bool, reasonClass string) {
	if !p.enabled() {
		return
	}
	p.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("reason_class", reasonClass),
	))
}

// RecordBandTransition counts one guardian band transition.
func (p *Provider) RecordBandTransition(ctx context.Context, from, to, trigger string) {
	if !p.enabled() {
		return
	}
	p.bandTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	))
}

// RecordTag counts one detected safety tag and records its confidence.
func (p *Provider) RecordTag(ctx context.Context, name, category string, confidence float64) {
	if !p.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tag", name),
		attribute.String("category", category),
	)
	p.tagsDetected.Add(ctx, 1, attrs)
	p.tagConfidence.Record(ctx, confidence, attrs)
}

// RecordDrift records one drift score sample.
func (p *Provider) RecordDrift(ctx context.Context, score float64) {
	if !p.enabled() {
		return
	}
	p.driftScore.Record(ctx, score)
}

// RecordVerifyDuration records one verification latency sample.
func (p *Provider) RecordVerifyDuration(ctx context.Context, d time.Duration) {
	if !p.enabled() {
		return
	}
	p.verifyDuration.Record(ctx, float64(d.Microseconds())/1000.0)
}

// Shutdown flushes and stops the metric provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
