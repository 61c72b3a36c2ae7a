package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Stream/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Provider holds the initialized meter pipeline.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter

	shutdownFuncs []func(context.Context) error
}

// Setup builds a meter provider. The OTLP exporter is attached only when an
// endpoint is configured; extra readers are attached as given.
func Setup(ctx context.Context, cfg config.TelemetryConfig, extra ...sdkmetric.Reader) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "stream"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.ExportInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.ExportInterval))
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)))
		log.Info().Str("module", "telemetry").Str("endpoint", cfg.OTLPEndpoint).Msg("otlp metrics enabled")
	}
	for _, r := range extra {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(name),
		shutdownFuncs: []func(context.Context) error{mp.Shutdown},
	}, nil
}

// Shutdown flushes and stops every exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
