package telemetry

import (
	"context"
	"os"

	"qms/clinic-queue/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Options struct {
	ServiceName string
	// Timezone and StoreDriver tag every span with the clinic deployment.
	Timezone    string
	StoreDriver string
	Logger      *logging.Logger
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs an OTLP gRPC tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
func Setup(options Options) Shutdown {
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "telemetry")

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Debug("tracing disabled")
		return noop
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		logger.Error("otlp exporter setup failed", "endpoint", endpoint, "error", err)
		return noop
	}

	res, err := resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithAttributes(resourceAttributes(options)...),
	)
	if err != nil {
		// A partial resource is still usable.
		logger.Warn("otel resource incomplete", "error", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", "endpoint", endpoint, "service", options.ServiceName)
	return provider.Shutdown
}

func resourceAttributes(options Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(options.ServiceName),
		semconv.ServiceVersion(serviceVersion()),
	}
	if options.Timezone != "" {
		attrs = append(attrs, attribute.String("clinic.timezone", options.Timezone))
	}
	if options.StoreDriver != "" {
		attrs = append(attrs, attribute.String("clinic.store_driver", options.StoreDriver))
	}
	return attrs
}

func serviceVersion() string {
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		return v
	}
	return "dev"
}
