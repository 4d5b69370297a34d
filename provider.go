package otelz

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

type scopeKey struct {
	name    string
	version string
}

// TracerProvider owns the tracing pipeline: sampler, ID generator, span
// limits, context manager and the ordered list of span processors.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type TracerProvider struct {
	processors   []SpanProcessor
	pending      []func(*TracerProvider) SpanProcessor
	tracers      map[scopeKey]*Tracer
	sampler      Sampler
	idGenerator  IDGenerator
	idPool       *pooledIDGenerator
	manager      ContextManager
	clock        clockz.Clock
	logger       *slog.Logger
	panicHook    func(p SpanProcessor, r any)
	limits       SpanLimits
	procLock     sync.RWMutex
	tracersLock  sync.Mutex
	shutdownOnce sync.Once
	shutdownErr  error
	isShutdown   atomic.Bool
}

// ProviderOption configures a TracerProvider.
type ProviderOption func(*TracerProvider)

// WithSampler sets the sampler. The default is ParentBased(AlwaysOn()).
func WithSampler(s Sampler) ProviderOption {
	return func(p *TracerProvider) {
		if s != nil {
			p.sampler = s
		}
	}
}

// WithIDGenerator replaces the pooled random ID generator.
func WithIDGenerator(g IDGenerator) ProviderOption {
	return func(p *TracerProvider) {
		if g != nil {
			p.idGenerator = g
		}
	}
}

// WithSpanProcessor appends a processor. Processors are invoked in the
// order they are registered.
func WithSpanProcessor(sp SpanProcessor) ProviderOption {
	return func(p *TracerProvider) {
		if sp != nil {
			p.pending = append(p.pending, func(*TracerProvider) SpanProcessor { return sp })
		}
	}
}

// WithBatcher appends a BatchSpanProcessor exporting to exporter. The
// processor is built after all options are applied, so it shares the
// provider's clock and logger regardless of option order. Explicit
// WithBatchClock or WithBatchLogger in opts still win.
func WithBatcher(exporter Exporter, opts ...BatchOption) ProviderOption {
	return func(p *TracerProvider) {
		p.pending = append(p.pending, func(p *TracerProvider) SpanProcessor {
			all := append([]BatchOption{WithBatchClock(p.clock), WithBatchLogger(p.logger)}, opts...)
			return NewBatchSpanProcessor(exporter, all...)
		})
	}
}

// WithSpanLimits sets the span limits. Zero fields take their defaults.
func WithSpanLimits(l SpanLimits) ProviderOption {
	return func(p *TracerProvider) {
		p.limits = l.normalize()
	}
}

// WithContextManager sets the manager consulted for the active context.
// The default is a StackManager owned by the provider.
func WithContextManager(m ContextManager) ProviderOption {
	return func(p *TracerProvider) {
		if m != nil {
			p.manager = m
		}
	}
}

// WithClock sets the clock used for span timestamps.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) ProviderOption {
	return func(p *TracerProvider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *TracerProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPanicHook sets a function to be called when a processor panics.
func WithPanicHook(hook func(p SpanProcessor, r any)) ProviderOption {
	return func(p *TracerProvider) {
		p.panicHook = hook
	}
}

// NewTracerProvider creates a provider. Span processors are built once
// every option has been applied, in the order they were given.
func NewTracerProvider(opts ...ProviderOption) *TracerProvider {
	p := &TracerProvider{
		tracers: make(map[scopeKey]*Tracer),
		sampler: ParentBased(AlwaysOn()),
		manager: NewStackManager(),
		clock:   clockz.RealClock,
		logger:  slog.Default(),
		limits:  NewSpanLimits(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, build := range p.pending {
		p.processors = append(p.processors, build(p))
	}
	p.pending = nil
	if p.idGenerator == nil {
		// Pool size based on number of CPUs for optimal contention balance.
		p.idPool = newPooledIDGenerator(NewRandomIDGenerator(), runtime.NumCPU()*100)
		p.idGenerator = p.idPool
	}
	return p
}

// TracerOption configures a Tracer.
type TracerOption func(*scopeKey)

// WithInstrumentationVersion sets the instrumentation scope version.
func WithInstrumentationVersion(version string) TracerOption {
	return func(k *scopeKey) {
		k.version = version
	}
}

// Tracer returns the tracer for the named instrumentation scope, creating
// it on first use.
func (p *TracerProvider) Tracer(name string, opts ...TracerOption) *Tracer {
	key := scopeKey{name: name}
	for _, opt := range opts {
		opt(&key)
	}

	p.tracersLock.Lock()
	defer p.tracersLock.Unlock()

	if t, ok := p.tracers[key]; ok {
		return t
	}
	t := &Tracer{provider: p, name: key.name, version: key.version}
	p.tracers[key] = t
	return t
}

// ContextManager returns the provider's context manager.
func (p *TracerProvider) ContextManager() ContextManager {
	return p.manager
}

// RegisterSpanProcessor appends sp to the processor list.
func (p *TracerProvider) RegisterSpanProcessor(sp SpanProcessor) {
	if sp == nil || p.isShutdown.Load() {
		return
	}
	p.procLock.Lock()
	defer p.procLock.Unlock()

	procs := make([]SpanProcessor, len(p.processors), len(p.processors)+1)
	copy(procs, p.processors)
	p.processors = append(procs, sp)
}

// UnregisterSpanProcessor removes sp and shuts it down.
func (p *TracerProvider) UnregisterSpanProcessor(ctx context.Context, sp SpanProcessor) error {
	p.procLock.Lock()
	found := false
	procs := make([]SpanProcessor, 0, len(p.processors))
	for _, existing := range p.processors {
		if existing == sp {
			found = true
			continue
		}
		procs = append(procs, existing)
	}
	p.processors = procs
	p.procLock.Unlock()

	if !found {
		return nil
	}
	return sp.Shutdown(ctx)
}

func (p *TracerProvider) spanProcessors() []SpanProcessor {
	p.procLock.RLock()
	defer p.procLock.RUnlock()
	return p.processors
}

func (p *TracerProvider) onStart(parent Context, s *Span) {
	for _, sp := range p.spanProcessors() {
		p.safeCall(sp, func() { sp.OnStart(parent, s) })
	}
}

func (p *TracerProvider) onEnd(d SpanData) {
	for _, sp := range p.spanProcessors() {
		p.safeCall(sp, func() { sp.OnEnd(d) })
	}
}

func (p *TracerProvider) safeCall(sp SpanProcessor, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("span processor panicked", "panic", r)
			if p.panicHook != nil {
				p.panicHook(sp, r)
			}
		}
	}()
	fn()
}

// sample runs the sampler, treating a panic as a Drop decision.
func (p *TracerProvider) sample(params SamplingParameters) (res SamplingResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("sampler panicked", "sampler", p.sampler.Description(), "panic", r)
			res = SamplingResult{Decision: Drop}
		}
	}()
	return p.sampler.ShouldSample(params)
}

// ForceFlush flushes every processor concurrently.
func (p *TracerProvider) ForceFlush(ctx context.Context) error {
	if p.isShutdown.Load() {
		return nil
	}
	return p.fanOut(ctx, func(ctx context.Context, sp SpanProcessor) error {
		return sp.ForceFlush(ctx)
	})
}

// Shutdown shuts every processor down. After Shutdown, new spans are
// non-recording. Calls after the first return the first call's result.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.isShutdown.Store(true)
		p.shutdownErr = p.fanOut(ctx, func(ctx context.Context, sp SpanProcessor) error {
			return sp.Shutdown(ctx)
		})
		if p.idPool != nil {
			p.idPool.Close()
		}
	})
	return p.shutdownErr
}

func (p *TracerProvider) fanOut(ctx context.Context, fn func(context.Context, SpanProcessor) error) error {
	procs := p.spanProcessors()
	errs := make([]error, len(procs))

	var g errgroup.Group
	for i, sp := range procs {
		i, sp := i, sp
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("span processor panicked", "panic", r)
					if p.panicHook != nil {
						p.panicHook(sp, r)
					}
					errs[i] = PanicError{Value: r}
				}
			}()
			errs[i] = fn(ctx, sp)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
