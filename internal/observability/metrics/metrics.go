package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level OTel instruments.
type Metrics struct {
	noticesSent  metric.Int64Counter
	feesCharged  metric.Int64Counter
	offerNotices metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "dunning"
	}
	meter := provider.Meter(name)

	noticesSent, err := meter.Int64Counter("dunning_notices_sent_total")
	if err != nil {
		return nil, err
	}
	feesCharged, err := meter.Int64Counter("dunning_fees_charged_minor_total",
		metric.WithDescription("Reminder fees and interest booked, in currency minor units."))
	if err != nil {
		return nil, err
	}
	offerNotices, err := meter.Int64Counter("dunning_offer_notices_sent_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		noticesSent:  noticesSent,
		feesCharged:  feesCharged,
		offerNotices: offerNotices,
	}, nil
}

// RecordNoticeSent counts a committed invoice reminder.
func (m *Metrics) RecordNoticeSent(ctx context.Context, level string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("level", strings.TrimSpace(level)))
	m.noticesSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFeeCharged adds booked fee and interest amounts.
func (m *Metrics) RecordFeeCharged(ctx context.Context, currency, kind string, minor int64) {
	if m == nil || minor <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
		attribute.String("kind", strings.TrimSpace(kind)),
	)
	m.feesCharged.Add(ctx, minor, metric.WithAttributes(attrs...))
}

// RecordOfferNotice counts a sent offer expiry reminder.
func (m *Metrics) RecordOfferNotice(ctx context.Context) {
	if m == nil {
		return
	}
	m.offerNotices.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"level":       {},
	"currency":    {},
	"kind":        {},
	"job":         {},
	"outcome":     {},
	"reason":      {},
	"status_code": {},
	"route":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
