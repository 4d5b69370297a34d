package otelz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchConfigFromMap(t *testing.T) {
	cfg, err := BatchConfigFromMap(map[string]any{
		"maxQueueSize":         100,
		"maxExportBatchSize":   "10",
		"scheduledDelayMillis": 250,
		"unknownOption":        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 10, cfg.MaxExportBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ScheduledDelay)
	assert.Equal(t, DefaultExportTimeout, cfg.ExportTimeout)
}

func TestBatchConfigFromMapEmpty(t *testing.T) {
	cfg, err := BatchConfigFromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, NewBatchConfig(), cfg)
}

func TestBatchConfigFromMapInvalid(t *testing.T) {
	_, err := BatchConfigFromMap(map[string]any{"maxQueueSize": "lots"})
	assert.Error(t, err)
}

func TestSpanLimitsFromMap(t *testing.T) {
	limits, err := SpanLimitsFromMap(map[string]any{
		"attributeCountLimit": 5,
		"eventCountLimit":     "7",
	})
	require.NoError(t, err)

	want := NewSpanLimits()
	want.AttributeCountLimit = 5
	want.EventCountLimit = 7
	assert.Equal(t, want, limits)
}

func TestBatchConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_BSP_MAX_QUEUE_SIZE", "64")
	t.Setenv("OTEL_BSP_MAX_EXPORT_BATCH_SIZE", "8")
	t.Setenv("OTEL_BSP_SCHEDULE_DELAY", "100")
	t.Setenv("OTEL_BSP_EXPORT_TIMEOUT", "not-a-number")

	cfg := BatchConfigFromEnv()
	assert.Equal(t, 64, cfg.MaxQueueSize)
	assert.Equal(t, 8, cfg.MaxExportBatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.ScheduledDelay)
	assert.Equal(t, DefaultExportTimeout, cfg.ExportTimeout)
}

func TestSpanLimitsFromEnv(t *testing.T) {
	t.Setenv("OTEL_ATTRIBUTE_COUNT_LIMIT", "10")
	t.Setenv("OTEL_SPAN_ATTRIBUTE_COUNT_LIMIT", "20")
	t.Setenv("OTEL_ATTRIBUTE_VALUE_LENGTH_LIMIT", "30")
	t.Setenv("OTEL_SPAN_EVENT_COUNT_LIMIT", "40")
	t.Setenv("OTEL_SPAN_LINK_COUNT_LIMIT", "50")
	t.Setenv("OTEL_EVENT_ATTRIBUTE_COUNT_LIMIT", "60")
	t.Setenv("OTEL_LINK_ATTRIBUTE_COUNT_LIMIT", "70")

	limits := SpanLimitsFromEnv()
	assert.Equal(t, SpanLimits{
		AttributeCountLimit:         20,
		AttributeValueLengthLimit:   30,
		EventCountLimit:             40,
		LinkCountLimit:              50,
		AttributePerEventCountLimit: 60,
		AttributePerLinkCountLimit:  70,
	}, limits)
}

func TestSamplerFromEnv(t *testing.T) {
	tests := []struct {
		sampler string
		arg     string
		want    string
	}{
		{"", "", ParentBased(AlwaysOn()).Description()},
		{"always_on", "", "AlwaysOnSampler"},
		{"ALWAYS_OFF", "", "AlwaysOffSampler"},
		{"traceidratio", "0.25", "TraceIDRatioBased{0.25}"},
		{"traceidratio", "", "AlwaysOnSampler"},
		{"parentbased_always_off", "", ParentBased(AlwaysOff()).Description()},
		{"parentbased_traceidratio", "0.5", ParentBased(TraceIDRatioBased(0.5)).Description()},
	}
	for _, tt := range tests {
		t.Run(tt.sampler+"/"+tt.arg, func(t *testing.T) {
			t.Setenv("OTEL_TRACES_SAMPLER", tt.sampler)
			t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.arg)

			s, err := SamplerFromEnv()
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Description())
		})
	}
}

func TestSamplerFromEnvErrors(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "jaeger_remote")
	_, err := SamplerFromEnv()
	assert.Error(t, err)

	t.Setenv("OTEL_TRACES_SAMPLER", "traceidratio")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
	_, err = SamplerFromEnv()
	assert.Error(t, err)

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "half")
	_, err = SamplerFromEnv()
	assert.Error(t, err)
}
