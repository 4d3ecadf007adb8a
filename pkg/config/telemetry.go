package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/version"
)

// StdoutEndpoint selects the console exporters instead of OTLP.
const StdoutEndpoint = "stdout"

type Telemetry struct {
	meter  *sdkmetric.MeterProvider
	tracer *sdktrace.TracerProvider
}

// SetupTelemetry installs global meter and tracer providers exporting to
// TelemetryEndpoint.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("simcoach"),
			semconv.ServiceVersion(version.Version),
		))
	if err != nil {
		return nil, err
	}

	metricExporter, traceExporter, err := newExporters(ctx, TelemetryEndpoint)
	if err != nil {
		return nil, err
	}
	ret := &Telemetry{
		meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(15*time.Second))),
		),
		tracer: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter),
		),
	}
	otel.SetMeterProvider(ret.meter)
	otel.SetTracerProvider(ret.tracer)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func newExporters(ctx context.Context, endpoint string) (
	sdkmetric.Exporter, sdktrace.SpanExporter, error,
) {
	if endpoint == StdoutEndpoint {
		m, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, err
		}
		t, err := stdouttrace.New()
		if err != nil {
			return nil, nil, err
		}
		return m, t, nil
	}
	m, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	t, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	return m, t, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx)); err != nil {
		log.Warn("error shutting down telemetry", log.ErrorField(err))
	}
}
