package metrics_test

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/tablebot/core/factory"
	metrics "github.com/kilianp07/tablebot/core/metrics"
	_ "github.com/kilianp07/tablebot/infra/metrics"
)

func TestMetricsSinkTypes(t *testing.T) {
	types := metrics.MetricsSinkTypes()
	sort.Strings(types)
	assert.Equal(t, []string{"influx", "nop", "prometheus"}, types)
}

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	multi, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "got %T", s)
	assert.Len(t, multi.Sinks, 2)

	_, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "statsd"}})
	assert.Error(t, err)
}

// An unreachable InfluxDB degrades to a no-op sink so seating keeps working.
func TestInfluxSinkFallsBackWhenUnreachable(t *testing.T) {
	s, err := metrics.NewMetricsSink([]factory.ModuleConfig{{
		Type: "influx",
		Conf: map[string]any{"url": "http://127.0.0.1:1", "org": "o", "bucket": "b"},
	}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)
}

func TestMetricsConfigDecode(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		doc := `sinks:
  - type: nop
  - type: nop
    conf:
      ignored: true
`
		var cfg metrics.Config
		require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
		require.Len(t, cfg.Sinks, 2)
		assert.Equal(t, true, cfg.Sinks[1].Conf["ignored"])
		s, err := metrics.NewMetricsSink(cfg.Sinks)
		require.NoError(t, err)
		assert.IsType(t, &metrics.MultiSink{}, s)
	})
	t.Run("json", func(t *testing.T) {
		doc := `{"sinks":[{"type":"missing"}],"prometheus_port":"9100","fleet_interval_seconds":15}`
		var cfg metrics.Config
		require.NoError(t, json.Unmarshal([]byte(doc), &cfg))
		assert.Equal(t, "9100", cfg.PrometheusPort)
		assert.Equal(t, 15, cfg.FleetInterval)
		_, err := metrics.NewMetricsSink(cfg.Sinks)
		assert.Error(t, err)
	})
}
