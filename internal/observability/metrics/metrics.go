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

// Metrics exposes application-level instruments.
type Metrics struct {
	computeRequests metric.Int64Counter
	computeLines    metric.Int64Counter
	computeDuration metric.Int64Histogram
	definitions     metric.Int64Counter
	roundingSpread  metric.Int64Counter
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
		name = "taxline"
	}
	meter := provider.Meter(name)

	computeRequests, err := meter.Int64Counter("taxline_compute_total")
	if err != nil {
		return nil, err
	}
	computeLines, err := meter.Int64Counter("taxline_compute_lines_total")
	if err != nil {
		return nil, err
	}
	computeDuration, err := meter.Int64Histogram("taxline_compute_duration_ms")
	if err != nil {
		return nil, err
	}
	definitions, err := meter.Int64Counter("taxline_definitions_created_total")
	if err != nil {
		return nil, err
	}
	roundingSpread, err := meter.Int64Counter("taxline_rounding_adjustments_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		computeRequests: computeRequests,
		computeLines:    computeLines,
		computeDuration: computeDuration,
		definitions:     definitions,
		roundingSpread:  roundingSpread,
	}, nil
}

// RecordCompute records a tax computation request.
func (m *Metrics) RecordCompute(ctx context.Context, currency string, lines int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	opts := metric.WithAttributes(attrs...)
	m.computeRequests.Add(ctx, 1, opts)
	m.computeLines.Add(ctx, int64(lines), opts)
	m.computeDuration.Record(ctx, duration.Milliseconds(), opts)
}

// RecordDefinitionCreated increments tax definition creation counts.
func (m *Metrics) RecordDefinitionCreated(ctx context.Context, amountKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("amount_kind", strings.TrimSpace(amountKind)))
	m.definitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRoundingAdjustment counts repartition lines nudged by the rounding distributor.
func (m *Metrics) RecordRoundingAdjustment(ctx context.Context, currency string, lines int) {
	if m == nil || lines <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	m.roundingSpread.Add(ctx, int64(lines), metric.WithAttributes(attrs...))
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
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"currency":    {},
	"amount_kind": {},
	"reason":      {},
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
