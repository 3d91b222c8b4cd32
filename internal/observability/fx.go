package observability

import (
	"strings"

	"github.com/smallbiznis/dunning/internal/config"
	"github.com/smallbiznis/dunning/internal/observability/logger"
	"github.com/smallbiznis/dunning/internal/observability/metrics"
	"github.com/smallbiznis/dunning/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires structured logs, traces, OTLP metrics and the prometheus
// scheduler collectors from config.Config.
var Module = fx.Module("observability",
	fx.Provide(
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.SchedulerWithConfig,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func serviceName(cfg config.Config) string {
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		return name
	}
	return "dunning"
}

func debug(cfg config.Config) bool {
	return cfg.Telemetry.LogLevel == "debug" || cfg.IsDevelopment()
}

func loggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName:         serviceName(cfg),
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		Level:               cfg.Telemetry.LogLevel,
		Format:              cfg.Telemetry.LogFormat,
		Debug:               debug(cfg),
		IncludeCaller:       true,
		IncludeStackOnError: debug(cfg),
	}
}

func tracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.Telemetry.OtelEnabled,
		ServiceName:      serviceName(cfg),
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.Telemetry.OtelProtocol,
		SamplingRatio:    cfg.Telemetry.SamplingRatio,
	}
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Telemetry.OtelEnabled,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.Telemetry.OtelProtocol,
		ServiceName:      serviceName(cfg),
		Environment:      cfg.Environment,
	}
}
