// Package tracing wires OpenTelemetry spans around script invocation,
// matching the teacher's internal/observability package (telemetry.go,
// tracer.go) trimmed to the subset this substrate actually needs: no
// HTTP server spans or propagation, since the substrate has no inbound
// transport layer of its own — only Execute/Call spans around the
// guest state a Context drives.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config mirrors config.TracingConfig; kept separate so this package has
// no dependency on internal/config.
type Config struct {
	Enabled     bool
	Exporter    string // otlp-http ("otlp" and "" mean the same); anything else is an error
	Endpoint    string
	ServiceName string
	SampleRate  float64
}

// Provider wraps an OpenTelemetry TracerProvider scoped to one substrate
// instance. Provider is a value, and StartInvocation starts spans on its
// own tracer, so independent providers do not mix spans. New also
// installs its TracerProvider as otel's global one, so the global is the
// most recently built Provider's.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

// Noop returns a disabled Provider whose StartInvocation spans are no-ops.
func Noop() *Provider {
	return &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
}

// New builds and starts a Provider from cfg. If cfg.Enabled is false,
// New returns a no-op Provider without touching the network.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}, nil
}

// Shutdown flushes and stops the provider's exporter. A no-op Provider
// shuts down immediately.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Enabled reports whether this Provider exports real spans.
func (p *Provider) Enabled() bool { return p != nil && p.enabled }

// StartInvocation starts a span named "llmspell.invoke" around one
// Execute/Call, tagging it with the function name, tenant, and
// cold-start flag the way exectx already tags its invocation log entry.
func (p *Provider) StartInvocation(ctx context.Context, function, tenantID string, coldStart bool) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "llmspell.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrFunction.String(function),
			AttrTenant.String(tenantID),
			AttrColdStart.Bool(coldStart),
		),
	)
}

// End closes span, marking it errored if err is non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Attribute keys for invocation spans.
var (
	AttrFunction  = attribute.Key("llmspell.function")
	AttrTenant    = attribute.Key("llmspell.tenant")
	AttrColdStart = attribute.Key("llmspell.cold_start")
)
