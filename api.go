// Package otelz provides an in-process distributed tracing core.
//
// otelz creates spans, decides which of them to keep, and hands finished
// spans to a pipeline of processors that batch them for export. Wire
// formats and backends are left to Exporter implementations.
//
// Core Components:
//   - TracerProvider: Owns the sampler, ID generator, limits and processors.
//   - Tracer: Creates spans for one instrumentation scope.
//   - Span: Records one unit of work until End is called.
//   - Context: Immutable key/value chain carrying the active span.
//   - ContextManager: Tracks the active Context for a thread of control.
//   - BatchSpanProcessor: Buffers ended spans and exports them in batches.
//
// Basic Usage:
//
//	exporter := otelz.NewConsoleExporter(os.Stdout, false)
//	provider := otelz.NewTracerProvider(otelz.WithBatcher(exporter))
//	defer provider.Shutdown(context.Background())
//
//	tracer := provider.Tracer("checkout")
//	ctx, span := tracer.StartSpan(ctx, "charge-card")
//	defer span.End()
//
//	span.SetAttributes(otelz.String("user.id", "123"))
//
//	// Children started from ctx share the trace.
//	_, child := tracer.StartSpan(ctx, "fraud-check")
//	child.End()
//
// Thread Safety:
//
// TracerProvider, Tracer, Span and BatchSpanProcessor are safe for
// concurrent use. StackManager keeps a separate active-context stack per
// goroutine; use Go or Bind to carry the active context onto another
// goroutine.
//
// Backpressure:
//
// Span.End never blocks on export. When the batch queue is full the span is
// dropped and counted; see BatchSpanProcessor.DroppedCount.
//
// Resource Cleanup:
//
// Call TracerProvider.Shutdown to flush queued spans and stop background
// goroutines. Spans started afterwards are not recorded.
package otelz
