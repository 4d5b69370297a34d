// Command otelz-demo runs a small traced workload and prints the finished
// spans as JSON lines.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zoobzio/otelz"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := buildCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type demoConfig struct {
	Requests       int
	Depth          int
	FailEvery      int
	Pretty         bool
	SamplerRatio   float64
	MaxQueueSize   int
	MaxExportBatch int
	ScheduledDelay time.Duration
	ExportTimeout  time.Duration
}

func buildCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("OTELZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "otelz-demo",
		Short:         "Run a traced workload and print the exported spans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := demoConfig{
				Requests:       v.GetInt("requests"),
				Depth:          v.GetInt("depth"),
				FailEvery:      v.GetInt("fail-every"),
				Pretty:         v.GetBool("pretty"),
				SamplerRatio:   v.GetFloat64("sampler-ratio"),
				MaxQueueSize:   v.GetInt("max-queue-size"),
				MaxExportBatch: v.GetInt("max-export-batch-size"),
				ScheduledDelay: v.GetDuration("scheduled-delay"),
				ExportTimeout:  v.GetDuration("export-timeout"),
			}
			logger := slog.New(slog.NewTextHandler(stderr, nil))
			err := run(cmd.Context(), cfg, stdout, logger)
			if err != nil {
				fmt.Fprintln(stderr, "error:", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.Int("requests", 3, "number of top-level requests")
	flags.Int("depth", 2, "nested spans per request")
	flags.Int("fail-every", 0, "mark every nth request as failed (0 disables)")
	flags.Bool("pretty", false, "indent JSON output")
	flags.Float64("sampler-ratio", 1, "fraction of traces to sample")
	flags.Int("max-queue-size", otelz.DefaultMaxQueueSize, "batch processor queue size")
	flags.Int("max-export-batch-size", otelz.DefaultMaxExportBatchSize, "spans per export")
	flags.Duration("scheduled-delay", otelz.DefaultScheduledDelay, "interval between periodic flushes")
	flags.Duration("export-timeout", otelz.DefaultExportTimeout, "timeout for one export")

	return cmd
}

var errRequestFailed = errors.New("request failed")

func run(ctx context.Context, cfg demoConfig, out io.Writer, logger *slog.Logger) error {
	batcher := otelz.NewBatchSpanProcessor(
		otelz.NewBreakerExporter(otelz.NewConsoleExporter(out, cfg.Pretty), otelz.BreakerSettings{Name: "console"}),
		otelz.WithBatchConfig(otelz.BatchConfig{
			MaxQueueSize:       cfg.MaxQueueSize,
			MaxExportBatchSize: cfg.MaxExportBatch,
			ScheduledDelay:     cfg.ScheduledDelay,
			ExportTimeout:      cfg.ExportTimeout,
		}),
		otelz.WithBatchLogger(logger),
	)
	provider := otelz.NewTracerProvider(
		otelz.WithLogger(logger),
		otelz.WithSampler(otelz.ParentBased(otelz.TraceIDRatioBased(cfg.SamplerRatio))),
		otelz.WithSpanProcessor(batcher),
	)

	tracer := provider.Tracer("otelz-demo", otelz.WithInstrumentationVersion("0.1.0"))
	runID := uuid.NewString()

	for i := 1; i <= cfg.Requests; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		_ = tracer.Run("request", func(span *otelz.Span) error {
			span.SetAttributes(
				otelz.String("run.id", runID),
				otelz.Int("request.number", i),
			)
			nest(tracer, cfg.Depth)
			if cfg.FailEvery > 0 && i%cfg.FailEvery == 0 {
				return fmt.Errorf("request %d: %w", i, errRequestFailed)
			}
			span.SetStatus(otelz.Ok, "")
			return nil
		}, otelz.WithSpanKind(otelz.SpanKindServer))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ExportTimeout)
	defer cancel()
	err := provider.Shutdown(shutdownCtx)

	logger.Info("workload finished",
		"run.id", runID,
		"exported", batcher.ExportedCount(),
		"dropped", batcher.DroppedCount(),
		"failed", batcher.FailedCount(),
	)
	return err
}

// nest creates a chain of depth child spans under the active span.
func nest(tracer *otelz.Tracer, depth int) {
	if depth <= 0 {
		return
	}
	_ = tracer.Run(fmt.Sprintf("step-%d", depth), func(span *otelz.Span) error {
		span.AddEvent("working", otelz.WithAttributes(otelz.Int("depth", depth)))
		nest(tracer, depth-1)
		return nil
	})
}
