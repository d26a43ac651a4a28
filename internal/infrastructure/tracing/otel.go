package tracing

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/blackms/flyswarm-go/internal/infrastructure/config"
)

const (
	instrumentationName = "github.com/blackms/flyswarm-go"
	sessionSpanName     = "swarm-session"
)

// OTelExporter turns events into spans. A session-start opens a root span
// that parents every later event until session-end closes it.
type OTelExporter struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error

	root    trace.Span
	rootCtx context.Context
}

// NewOTelExporter builds a tracer provider for cfg and wraps it.
func NewOTelExporter(ctx context.Context, cfg config.OTelConfig, swarmID string) (*OTelExporter, error) {
	exp, err := buildExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build otel exporter: %w", err)
	}

	service := cfg.ServiceName
	if service == "" {
		service = "flyswarm"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			attribute.String("flyswarm.swarm_id", swarmID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(buildSampler(cfg)),
		sdktrace.WithResource(res),
	)
	return NewOTelExporterWithProvider(tp, tp.Shutdown), nil
}

// NewOTelExporterWithProvider wraps an existing tracer provider. shutdown
// may be nil.
func NewOTelExporterWithProvider(tp trace.TracerProvider, shutdown func(context.Context) error) *OTelExporter {
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return &OTelExporter{
		tracer:   tp.Tracer(instrumentationName),
		shutdown: shutdown,
	}
}

// Export records event as a span.
func (e *OTelExporter) Export(_ context.Context, event Event) error {
	ts := time.UnixMilli(event.Timestamp)
	attrs := toAttributes(event)

	switch event.Kind {
	case KindSessionStart:
		if e.root != nil {
			e.root.End(trace.WithTimestamp(ts))
		}
		e.rootCtx, e.root = e.tracer.Start(context.Background(), sessionSpanName,
			trace.WithTimestamp(ts),
			trace.WithAttributes(attrs...))
		return nil

	case KindSessionEnd:
		if e.root == nil {
			return nil
		}
		e.root.SetAttributes(attrs...)
		e.root.End(trace.WithTimestamp(ts))
		e.root, e.rootCtx = nil, nil
		return nil
	}

	parent := e.rootCtx
	if parent == nil {
		parent = context.Background()
	}

	start := ts
	if d, ok := event.Attributes["duration"].(int64); ok && d > 0 {
		start = ts.Add(-time.Duration(d) * time.Millisecond)
	}

	_, span := e.tracer.Start(parent, string(event.Kind),
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...))
	if msg, ok := event.Attributes["error"].(string); ok && msg != "" {
		span.SetStatus(codes.Error, msg)
	}
	span.End(trace.WithTimestamp(ts))
	return nil
}

// Close ends an open session span and shuts the provider down, flushing
// batched spans.
func (e *OTelExporter) Close(ctx context.Context) error {
	if e.root != nil {
		e.root.End()
		e.root, e.rootCtx = nil, nil
	}
	return e.shutdown(ctx)
}

// toAttributes converts event attributes to span attributes in key order.
// Values without a native attribute type are JSON encoded.
func toAttributes(event Event) []attribute.KeyValue {
	keys := make([]string, 0, len(event.Attributes))
	for k := range event.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys)+1)
	out = append(out, attribute.String("swarm.id", event.SwarmID))
	for _, k := range keys {
		key := "swarm." + k
		switch v := event.Attributes[k].(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case float64:
			out = append(out, attribute.Float64(key, v))
		case []string:
			out = append(out, attribute.StringSlice(key, v))
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				out = append(out, attribute.String(key, fmt.Sprint(v)))
				continue
			}
			out = append(out, attribute.String(key, string(raw)))
		}
	}
	return out
}

func buildExporter(ctx context.Context, cfg config.OTelConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "otlp", "otlpgrpc", "grpc":
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpoint),
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{})))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "otlphttp", "http":
		if endpoint == "" {
			endpoint = "http://localhost:4318"
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpointURL(endpoint),
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

func buildSampler(cfg config.OTelConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "traceidratio", "ratio":
		ratio := cfg.SamplerRatio
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}
