package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	goIdP "github.com/MrEthical07/goIdP"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goIdP.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goIdP.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goIdP.MetricsSnapshot{
		Counters:   make(map[goIdP.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goIdP.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{
				goIdP.MetricPasswordSuccess: 3,
			},
			Histograms: map[goIdP.MetricID][]uint64{
				goIdP.MetricTokenLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("goidp-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, exp.Close()) })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	m, ok := findMetric(rm, "goidp_password_success_total")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	m, ok = findMetric(rm, "goidp_token_latency_seconds_bucket")
	require.True(t, ok)
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, gauge.DataPoints, 8)

	m, ok = findMetric(rm, "goidp_token_latency_seconds_count")
	require.True(t, ok)
	assert.Equal(t, int64(8), m.Data.(metricdata.Gauge[int64]).DataPoints[0].Value)
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()

	_, err := NewExporterFromSource(provider.Meter("goidp-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
	_, err = NewExporter(provider.Meter("goidp-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: goIdP.MetricsSnapshot{
			Counters:   map[goIdP.MetricID]uint64{goIdP.MetricRevoke: 1},
			Histograms: map[goIdP.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("goidp-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goIdP.MetricRevoke] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
