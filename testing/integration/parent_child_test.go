package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/zoobzio/otelz"
)

// TestDeepNestingChain verifies a 100-level deep span hierarchy.
// All parent relationships must be correct.
func TestDeepNestingChain(t *testing.T) {
	p := NewPipeline(t)
	tracer := p.Provider.Tracer("test-service")

	nestingDepth := 100
	ctx := context.Background()
	spans := make([]*otelz.Span, 0, nestingDepth)
	names := make([]string, 0, nestingDepth)

	for i := 0; i < nestingDepth; i++ {
		var span *otelz.Span
		name := fmt.Sprintf("level-%03d", i)
		ctx, span = tracer.StartSpan(ctx, name)
		span.SetAttributes(otelz.Int("depth", i))
		spans = append(spans, span)
		names = append(names, name)
	}

	// Finish in reverse order (deepest first).
	for i := len(spans) - 1; i >= 0; i-- {
		spans[i].End()
	}

	exported := p.AssertSpanCount(nestingDepth)
	analyzer := NewTraceAnalyzer(exported)

	if err := analyzer.VerifyChain(names...); err != nil {
		t.Fatalf("Chain verification failed: %v\n%s", err, PrintSpanTree(BuildSpanTree(exported)))
	}
	if analyzer.CountTrees() != 1 {
		t.Errorf("Expected 1 tree, got %d", analyzer.CountTrees())
	}
	if analyzer.CountTraces() != 1 {
		t.Errorf("Expected 1 trace, got %d", analyzer.CountTraces())
	}
}

// TestWideFanOut verifies many siblings under one parent.
func TestWideFanOut(t *testing.T) {
	p := NewPipeline(t)
	tracer := p.Provider.Tracer("fanout")

	ctx, root := tracer.StartSpan(context.Background(), "root")

	const children = 50
	var wg sync.WaitGroup
	for i := 0; i < children; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, child := tracer.StartSpan(ctx, "child")
			child.SetAttributes(otelz.Int("index", i))
			child.End()
		}()
	}
	wg.Wait()
	root.End()

	exported := p.AssertSpanCount(children + 1)
	trees := BuildSpanTree(exported)
	if len(trees) != 1 {
		t.Fatalf("Expected 1 root, got %d", len(trees))
	}
	if got := len(trees[0].Children); got != children {
		t.Errorf("Expected %d children, got %d", children, got)
	}
}

// TestStackManagerNesting verifies implicit parenting through Run.
func TestStackManagerNesting(t *testing.T) {
	exporter := otelz.NewInMemoryExporter()
	manager := otelz.NewStackManager()
	provider := otelz.NewTracerProvider(
		otelz.WithContextManager(manager),
		otelz.WithSpanProcessor(otelz.NewSimpleSpanProcessor(exporter, nil)),
	)
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer("run")

	err := tracer.Run("handler", func(*otelz.Span) error {
		return tracer.Run("repository", func(*otelz.Span) error {
			return tracer.Run("query", func(*otelz.Span) error { return nil })
		})
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	analyzer := NewTraceAnalyzer(exporter.GetFinishedSpans())
	if err := analyzer.VerifyChain("handler", "repository", "query"); err != nil {
		t.Error(err)
	}
	if !manager.Active().IsRoot() {
		t.Error("Expected active context to be restored to root")
	}
}

// TestGoroutineHandoff verifies a forked manager keeps the parent.
func TestGoroutineHandoff(t *testing.T) {
	exporter := otelz.NewInMemoryExporter()
	manager := otelz.NewStackManager()
	provider := otelz.NewTracerProvider(otelz.WithSpanProcessor(otelz.NewSimpleSpanProcessor(exporter, nil)))
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer("handoff")

	parent := tracer.Start("parent")
	var wg sync.WaitGroup
	wg.Add(1)
	manager.With(otelz.ContextWithSpan(manager.Active(), parent), func() {
		manager.Go(func(m otelz.ContextManager) {
			defer wg.Done()
			worker := tracer.Start("worker", otelz.WithParent(m.Active()))
			worker.End()
		})
	})
	wg.Wait()
	parent.End()

	analyzer := NewTraceAnalyzer(exporter.GetFinishedSpans())
	if err := analyzer.VerifyChain("parent", "worker"); err != nil {
		t.Error(err)
	}
}
