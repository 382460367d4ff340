// Package otelmetrics records engine counters and histograms through an
// OpenTelemetry meter.
package otelmetrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nestorgt/go-settlement/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "github.com/nestorgt/go-settlement"

// Recorder creates instruments lazily, one per metric name.
type Recorder struct {
	meter    metric.Meter
	observer core.Observer

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

type Option func(*Recorder)

// WithObserver reports instrument creation failures.
func WithObserver(observer core.Observer) Option {
	return func(r *Recorder) {
		r.observer = observer
	}
}

// New binds a recorder to provider. A nil provider uses the global one.
func New(provider metric.MeterProvider, opts ...Option) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	recorder := &Recorder{
		meter:      provider.Meter(MeterName),
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	counter, err := r.counter(name)
	if err != nil {
		r.observer.Warn(ctx, "metric instrument unavailable", map[string]any{"metric": name, "error": err.Error()})
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	histogram, err := r.histogram(name)
	if err != nil {
		r.observer.Warn(ctx, "metric instrument unavailable", map[string]any{"metric": name, "error": err.Error()})
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) (metric.Int64Counter, error) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, nil
	}
	counter, err := r.meter.Int64Counter(name, metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s counter: %w", name, err)
	}
	r.counters[name] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram, nil
	}
	unit := ""
	if strings.HasSuffix(name, "_ms") {
		unit = "ms"
	}
	histogram, err := r.meter.Float64Histogram(name, metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s histogram: %w", name, err)
	}
	r.histograms[name] = histogram
	return histogram, nil
}

func attributes(tags map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
