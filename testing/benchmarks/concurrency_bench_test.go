package benchmarks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/otelz"
)

// BenchmarkConcurrentSpanCreation tests thread safety under heavy concurrent load.
func BenchmarkConcurrentSpanCreation(b *testing.B) {
	concurrencyLevels := []int{1, 10, 50, 100, 500}

	for _, concurrency := range concurrencyLevels {
		b.Run(fmt.Sprintf("concurrent-%d", concurrency), func(b *testing.B) {
			provider, _ := newBenchProvider(b)
			tracer := provider.Tracer("concurrent-test")

			ctx := context.Background()
			spansPerWorker := b.N / concurrency
			if spansPerWorker == 0 {
				spansPerWorker = 1
			}

			var wg sync.WaitGroup
			var totalSpans int64

			b.ResetTimer()

			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func(workerID int) {
					defer wg.Done()
					for j := 0; j < spansPerWorker; j++ {
						_, span := tracer.StartSpan(ctx, "worker-span")
						span.SetAttributes(otelz.Int("worker.id", workerID))
						span.End()
						atomic.AddInt64(&totalSpans, 1)
					}
				}(i)
			}

			wg.Wait()
			b.ReportMetric(float64(totalSpans), "total-spans")
		})
	}
}

// BenchmarkBatchProcessorConcurrency tests OnEnd under concurrent load with
// different queue sizes.
func BenchmarkBatchProcessorConcurrency(b *testing.B) {
	concurrencyLevels := []int{1, 10, 50, 100}
	queueSizes := []int{128, 2048}

	for _, concurrency := range concurrencyLevels {
		for _, queueSize := range queueSizes {
			b.Run(fmt.Sprintf("workers-%d-queue-%d", concurrency, queueSize), func(b *testing.B) {
				provider, batcher := newBenchProvider(b, otelz.WithMaxQueueSize(queueSize))
				span := provider.Tracer("batch").Start("template")
				span.End()
				data := span.Snapshot()

				spansPerWorker := b.N / concurrency
				if spansPerWorker == 0 {
					spansPerWorker = 1
				}

				var wg sync.WaitGroup

				b.ResetTimer()

				for i := 0; i < concurrency; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for j := 0; j < spansPerWorker; j++ {
							batcher.OnEnd(data)
						}
					}()
				}

				wg.Wait()
				b.ReportMetric(float64(batcher.DroppedCount()), "dropped")
			})
		}
	}
}

// BenchmarkBackpressureConcurrency measures End latency while the exporter
// cannot keep up.
func BenchmarkBackpressureConcurrency(b *testing.B) {
	exporter := &slowExporter{delay: time.Millisecond}
	batcher := otelz.NewBatchSpanProcessor(exporter,
		otelz.WithMaxQueueSize(256),
		otelz.WithMaxExportBatchSize(64),
	)
	provider := otelz.NewTracerProvider(otelz.WithSpanProcessor(batcher))
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer("backpressure")

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tracer.Start("pressured").End()
		}
	})

	b.StopTimer()
	total := float64(batcher.ExportedCount() + batcher.DroppedCount() + uint64(batcher.QueueLength()))
	if total > 0 {
		b.ReportMetric(float64(batcher.DroppedCount())/total*100, "drop-%")
	}
}

// BenchmarkStackManagerNesting measures Run through an active-context stack.
func BenchmarkStackManagerNesting(b *testing.B) {
	batcher := otelz.NewBatchSpanProcessor(&discardExporter{})
	provider := otelz.NewTracerProvider(
		otelz.WithContextManager(otelz.NewStackManager()),
		otelz.WithSpanProcessor(batcher),
	)
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer("stack")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = tracer.Run("outer", func(*otelz.Span) error {
			return tracer.Run("inner", func(*otelz.Span) error { return nil })
		})
	}
}

// slowExporter holds every batch for a fixed delay.
type slowExporter struct {
	delay time.Duration
}

func (e *slowExporter) Export(ctx context.Context, _ []otelz.SpanData) error {
	select {
	case <-time.After(e.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (*slowExporter) Shutdown(context.Context) error { return nil }
