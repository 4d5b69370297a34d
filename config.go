package otelz

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// batchOptionsMap mirrors the flat options object accepted by the batching
// processor. Durations are expressed in milliseconds.
type batchOptionsMap struct {
	MaxQueueSize         *int `mapstructure:"maxQueueSize"`
	MaxExportBatchSize   *int `mapstructure:"maxExportBatchSize"`
	ScheduledDelayMillis *int `mapstructure:"scheduledDelayMillis"`
	ExportTimeoutMillis  *int `mapstructure:"exportTimeoutMillis"`
}

// BatchConfigFromMap decodes the flat options object. Missing keys keep
// their defaults and unrecognized keys are ignored.
func BatchConfigFromMap(m map[string]any) (BatchConfig, error) {
	var raw batchOptionsMap
	if err := decodeOptions(m, &raw); err != nil {
		return BatchConfig{}, fmt.Errorf("decode batch options: %w", err)
	}

	cfg := NewBatchConfig()
	if raw.MaxQueueSize != nil {
		cfg.MaxQueueSize = *raw.MaxQueueSize
	}
	if raw.MaxExportBatchSize != nil {
		cfg.MaxExportBatchSize = *raw.MaxExportBatchSize
	}
	if raw.ScheduledDelayMillis != nil {
		cfg.ScheduledDelay = time.Duration(*raw.ScheduledDelayMillis) * time.Millisecond
	}
	if raw.ExportTimeoutMillis != nil {
		cfg.ExportTimeout = time.Duration(*raw.ExportTimeoutMillis) * time.Millisecond
	}
	return cfg, nil
}

// SpanLimitsFromMap decodes span limits from a flat options object,
// starting from the defaults. Unrecognized keys are ignored.
func SpanLimitsFromMap(m map[string]any) (SpanLimits, error) {
	limits := NewSpanLimits()
	if err := decodeOptions(m, &limits); err != nil {
		return SpanLimits{}, fmt.Errorf("decode span limits: %w", err)
	}
	return limits, nil
}

func decodeOptions(m map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// BatchConfigFromEnv reads the OTEL_BSP_* variables on top of the defaults.
// Unparseable values are ignored.
func BatchConfigFromEnv() BatchConfig {
	cfg := NewBatchConfig()
	if v, ok := envInt("OTEL_BSP_MAX_QUEUE_SIZE"); ok {
		cfg.MaxQueueSize = v
	}
	if v, ok := envInt("OTEL_BSP_MAX_EXPORT_BATCH_SIZE"); ok {
		cfg.MaxExportBatchSize = v
	}
	if v, ok := envInt("OTEL_BSP_SCHEDULE_DELAY"); ok {
		cfg.ScheduledDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("OTEL_BSP_EXPORT_TIMEOUT"); ok {
		cfg.ExportTimeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// SpanLimitsFromEnv reads the OTEL_SPAN_* and OTEL_ATTRIBUTE_* variables on
// top of the defaults. Span-specific variables win over general ones.
func SpanLimitsFromEnv() SpanLimits {
	limits := NewSpanLimits()
	if v, ok := envInt("OTEL_ATTRIBUTE_COUNT_LIMIT"); ok {
		limits.AttributeCountLimit = v
	}
	if v, ok := envInt("OTEL_ATTRIBUTE_VALUE_LENGTH_LIMIT"); ok {
		limits.AttributeValueLengthLimit = v
	}
	if v, ok := envInt("OTEL_SPAN_ATTRIBUTE_COUNT_LIMIT"); ok {
		limits.AttributeCountLimit = v
	}
	if v, ok := envInt("OTEL_SPAN_ATTRIBUTE_VALUE_LENGTH_LIMIT"); ok {
		limits.AttributeValueLengthLimit = v
	}
	if v, ok := envInt("OTEL_SPAN_EVENT_COUNT_LIMIT"); ok {
		limits.EventCountLimit = v
	}
	if v, ok := envInt("OTEL_SPAN_LINK_COUNT_LIMIT"); ok {
		limits.LinkCountLimit = v
	}
	if v, ok := envInt("OTEL_EVENT_ATTRIBUTE_COUNT_LIMIT"); ok {
		limits.AttributePerEventCountLimit = v
	}
	if v, ok := envInt("OTEL_LINK_ATTRIBUTE_COUNT_LIMIT"); ok {
		limits.AttributePerLinkCountLimit = v
	}
	return limits
}

// SamplerFromEnv builds a sampler from OTEL_TRACES_SAMPLER and
// OTEL_TRACES_SAMPLER_ARG. It returns ParentBased(AlwaysOn()) when unset.
func SamplerFromEnv() (Sampler, error) {
	name := strings.ToLower(strings.TrimSpace(getEnv("OTEL_TRACES_SAMPLER", "parentbased_always_on")))
	arg := strings.TrimSpace(getEnv("OTEL_TRACES_SAMPLER_ARG", ""))

	ratio := func() (float64, error) {
		if arg == "" {
			return 1, nil
		}
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, fmt.Errorf("parse OTEL_TRACES_SAMPLER_ARG %q: %w", arg, err)
		}
		if r < 0 || r > 1 {
			return 0, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG %q out of range [0, 1]", arg)
		}
		return r, nil
	}

	switch name {
	case "always_on":
		return AlwaysOn(), nil
	case "always_off":
		return AlwaysOff(), nil
	case "traceidratio":
		r, err := ratio()
		if err != nil {
			return nil, err
		}
		return TraceIDRatioBased(r), nil
	case "parentbased_always_on":
		return ParentBased(AlwaysOn()), nil
	case "parentbased_always_off":
		return ParentBased(AlwaysOff()), nil
	case "parentbased_traceidratio":
		r, err := ratio()
		if err != nil {
			return nil, err
		}
		return ParentBased(TraceIDRatioBased(r)), nil
	}
	return nil, fmt.Errorf("unknown OTEL_TRACES_SAMPLER %q", name)
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt parses an integer environment variable.
func envInt(key string) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}
