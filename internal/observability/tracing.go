package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"toolgate/internal/config"
)

// Tracing manages OpenTelemetry tracing. When disabled every method is a
// cheap no-op, so callers never branch on IsEnabled themselves.
type Tracing struct {
	logger   *zap.SugaredLogger
	config   config.TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracing creates a tracing manager. serviceName and version end up in the
// OTLP resource attributes.
func NewTracing(logger *zap.SugaredLogger, cfg config.TracingConfig, serviceName, version string) (*Tracing, error) {
	tm := &Tracing{
		logger:  logger,
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return tm, nil
	}

	if err := tm.initTracing(serviceName, version); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", serviceName,
		"otlp_endpoint", cfg.Endpoint,
		"sample_rate", cfg.SampleRate)

	return tm, nil
}

// initTracing initializes OpenTelemetry tracing
func (tm *Tracing) initTracing(serviceName, version string) error {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(tm.config.Endpoint),
	}
	if tm.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(tm.config.SampleRate)),
	)

	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tm.tracer = otel.Tracer(serviceName)

	return nil
}

// Close shuts down the tracing provider
func (tm *Tracing) Close(ctx context.Context) error {
	if !tm.enabled || tm.provider == nil {
		return nil
	}

	tm.logger.Info("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

// StartSpan starts a new trace span
func (tm *Tracing) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}

	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceDispatch creates a span covering one protocol request
func (tm *Tracing) TraceDispatch(ctx context.Context, method string) (context.Context, oteltrace.Span) {
	if !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}

	return tm.tracer.Start(ctx, "rpc.dispatch",
		oteltrace.WithAttributes(
			attribute.String("rpc.method", method),
		),
	)
}

// TraceToolCall creates a span for tool execution
func (tm *Tracing) TraceToolCall(ctx context.Context, clientID, toolName string) (context.Context, oteltrace.Span) {
	if !tm.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}

	return tm.tracer.Start(ctx, "tool.call",
		oteltrace.WithAttributes(
			attribute.String("tool.client", clientID),
			attribute.String("tool.name", toolName),
		),
	)
}

// AddSpanAttributes adds attributes to the current span
func (tm *Tracing) AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if !tm.enabled {
		return
	}

	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}

// SetSpanError marks the current span as having an error
func (tm *Tracing) SetSpanError(ctx context.Context, err error) {
	if !tm.enabled {
		return
	}

	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("error", "true"))
	span.SetAttributes(attribute.String("error.message", err.Error()))
}

// HTTPMiddleware returns middleware that adds tracing to HTTP requests
func (tm *Tracing) HTTPMiddleware() func(http.Handler) http.Handler {
	if !tm.enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract trace context from incoming request
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			ctx, span := tm.tracer.Start(ctx, spanName,
				oteltrace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPURLKey.String(r.URL.String()),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			ww := &tracingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(
				semconv.HTTPStatusCodeKey.Int(ww.statusCode),
			)
			if ww.statusCode >= 400 {
				span.SetAttributes(attribute.String("error", "true"))
			}
		})
	}
}

// tracingResponseWriter wraps http.ResponseWriter to capture status code for tracing
type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *tracingResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// IsEnabled returns whether tracing is enabled
func (tm *Tracing) IsEnabled() bool {
	return tm.enabled
}
