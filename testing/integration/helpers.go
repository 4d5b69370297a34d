package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/otelz"
)

// Pipeline wires a provider to an in-memory exporter through a batch
// processor, the way production code wires a real backend.
type Pipeline struct {
	Provider *otelz.TracerProvider
	Exporter *otelz.InMemoryExporter
	Batcher  *otelz.BatchSpanProcessor
	t        *testing.T
}

// NewPipeline creates a pipeline and registers its shutdown as test cleanup.
func NewPipeline(t *testing.T, opts ...otelz.BatchOption) *Pipeline {
	t.Helper()
	exporter := otelz.NewInMemoryExporter()
	batcher := otelz.NewBatchSpanProcessor(exporter, opts...)
	provider := otelz.NewTracerProvider(otelz.WithSpanProcessor(batcher))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	})
	return &Pipeline{Provider: provider, Exporter: exporter, Batcher: batcher, t: t}
}

// Flush forces queued spans out and returns everything exported so far.
func (p *Pipeline) Flush() []otelz.SpanData {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Provider.ForceFlush(ctx); err != nil {
		p.t.Fatalf("ForceFlush failed: %v", err)
	}
	return p.Exporter.GetFinishedSpans()
}

// AssertSpanCount verifies the number of exported spans.
func (p *Pipeline) AssertSpanCount(expected int) []otelz.SpanData {
	p.t.Helper()
	spans := p.Flush()
	if len(spans) != expected {
		p.t.Fatalf("Expected %d spans, got %d", expected, len(spans))
	}
	return spans
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     otelz.SpanData
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
func BuildSpanTree(spans []otelz.SpanData) []*SpanTree {
	nodeMap := make(map[otelz.SpanID]*SpanTree)
	roots := make([]*SpanTree, 0)

	for i := range spans {
		nodeMap[spans[i].SpanContext.SpanID()] = &SpanTree{Span: spans[i]}
	}

	for i := range spans {
		node := nodeMap[spans[i].SpanContext.SpanID()]
		parentID := spans[i].ParentSpanID()
		if parent, exists := nodeMap[parentID]; exists && parentID.IsValid() {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s (%.2fms)\n",
		indent, node.Span.Name, node.Span.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byID   map[otelz.SpanID]otelz.SpanData
	byName map[string][]otelz.SpanData
	trees  []*SpanTree
	spans  []otelz.SpanData
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []otelz.SpanData) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[otelz.SpanID]otelz.SpanData),
		byName: make(map[string][]otelz.SpanData),
	}
	for i := range spans {
		a.byID[spans[i].SpanContext.SpanID()] = spans[i]
		a.byName[spans[i].Name] = append(a.byName[spans[i].Name], spans[i])
	}
	a.trees = BuildSpanTree(spans)
	return a
}

// GetSpansByName retrieves all spans with given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []otelz.SpanData {
	return a.byName[name]
}

// CountTrees returns number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// CountTraces returns the number of distinct trace IDs.
func (a *TraceAnalyzer) CountTraces() int {
	seen := make(map[otelz.TraceID]struct{})
	for i := range a.spans {
		seen[a.spans[i].SpanContext.TraceID()] = struct{}{}
	}
	return len(seen)
}

// VerifyChain checks if spans form a valid parent-child chain.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return errors.New("chain requires at least 2 spans")
	}

	var prev *otelz.SpanData
	for i, name := range names {
		spans := a.GetSpansByName(name)
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", name)
		}
		span := spans[0]
		if prev != nil {
			if span.ParentSpanID() != prev.SpanContext.SpanID() {
				return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
			}
			if span.SpanContext.TraceID() != prev.SpanContext.TraceID() {
				return fmt.Errorf("broken chain: %s is in a different trace than %s", name, names[i-1])
			}
		}
		prev = &span
	}
	return nil
}

// MockService simulates a downstream dependency that creates its own spans.
type MockService struct {
	tracer   *otelz.Tracer
	name     string
	latency  time.Duration
	failures int
	calls    int
	mu       sync.Mutex
}

// NewMockService creates a service tracing with tracer.
func NewMockService(name string, tracer *otelz.Tracer) *MockService {
	return &MockService{name: name, tracer: tracer}
}

// SetLatency configures the simulated latency of every call.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailEvery makes every nth call fail. Zero disables failures.
func (m *MockService) FailEvery(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

var errServiceFailed = errors.New("service call failed")

// Call performs one traced operation under ctx.
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	latency := m.latency
	fail := m.failures > 0 && call%m.failures == 0
	m.mu.Unlock()

	_, span := m.tracer.StartSpan(ctx, m.name+"."+operation, otelz.WithSpanKind(otelz.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		otelz.String("service.name", m.name),
		otelz.Int("call.number", call),
	)

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(otelz.Error, ctx.Err().Error())
			return ctx.Err()
		}
	}

	if fail {
		span.RecordError(errServiceFailed)
		span.SetStatus(otelz.Error, errServiceFailed.Error())
		return errServiceFailed
	}
	return nil
}
