package otel

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics is an OTEL MeterProvider whose readings land in a dedicated
// Prometheus registry, scrapeable over HTTP or dumpable to a textfile.
type Metrics struct {
	Registry *prom.Registry
	provider *sdkmetric.MeterProvider
}

type MetricsOptions struct {
	// Runtime adds Go runtime instruments (long-running modes only).
	Runtime bool
}

// InitMetricsPrometheus installs the global MeterProvider.
func InitMetricsPrometheus(
	ctx context.Context,
	serviceName string,
	opts MetricsOptions,
	extraAttrs ...attribute.KeyValue,
) (*Metrics, error) {

	res, err := newResource(ctx, serviceName, extraAttrs...)
	if err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)
	if opts.Runtime {
		if err := runtime.Start(
			runtime.WithMeterProvider(mp),
			runtime.WithMinimumReadMemStatsInterval(10*time.Second),
		); err != nil {
			_ = mp.Shutdown(ctx)
			return nil, err
		}
	}
	return &Metrics{Registry: reg, provider: mp}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current readings for a node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, m.Registry)
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
