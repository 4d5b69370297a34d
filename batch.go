package otelz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

const (
	DefaultMaxQueueSize       = 2048
	DefaultMaxExportBatchSize = 512
	DefaultScheduledDelay     = 5000 * time.Millisecond
	DefaultExportTimeout      = 30000 * time.Millisecond
)

// BatchConfig holds the batching processor tunables.
type BatchConfig struct {
	MaxQueueSize       int
	MaxExportBatchSize int
	ScheduledDelay     time.Duration
	ExportTimeout      time.Duration
}

// NewBatchConfig returns the default configuration.
func NewBatchConfig() BatchConfig {
	return BatchConfig{
		MaxQueueSize:       DefaultMaxQueueSize,
		MaxExportBatchSize: DefaultMaxExportBatchSize,
		ScheduledDelay:     DefaultScheduledDelay,
		ExportTimeout:      DefaultExportTimeout,
	}
}

// normalize replaces non-positive values with defaults and clamps the batch
// size to the queue size. It returns a description of every adjustment.
func (c BatchConfig) normalize() (BatchConfig, []string) {
	var notes []string
	if c.MaxQueueSize <= 0 {
		notes = append(notes, fmt.Sprintf("maxQueueSize %d is not positive, using %d", c.MaxQueueSize, DefaultMaxQueueSize))
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxExportBatchSize <= 0 {
		notes = append(notes, fmt.Sprintf("maxExportBatchSize %d is not positive, using %d", c.MaxExportBatchSize, DefaultMaxExportBatchSize))
		c.MaxExportBatchSize = DefaultMaxExportBatchSize
	}
	if c.MaxExportBatchSize > c.MaxQueueSize {
		notes = append(notes, fmt.Sprintf("maxExportBatchSize %d exceeds maxQueueSize %d, clamping", c.MaxExportBatchSize, c.MaxQueueSize))
		c.MaxExportBatchSize = c.MaxQueueSize
	}
	if c.ScheduledDelay <= 0 {
		notes = append(notes, fmt.Sprintf("scheduledDelay %s is not positive, using %s", c.ScheduledDelay, DefaultScheduledDelay))
		c.ScheduledDelay = DefaultScheduledDelay
	}
	if c.ExportTimeout <= 0 {
		notes = append(notes, fmt.Sprintf("exportTimeout %s is not positive, using %s", c.ExportTimeout, DefaultExportTimeout))
		c.ExportTimeout = DefaultExportTimeout
	}
	return c, notes
}

type batchOptions struct {
	config  BatchConfig
	clock   clockz.Clock
	logger  *slog.Logger
	onError func(err error, dropped int)
}

// BatchOption configures a BatchSpanProcessor.
type BatchOption func(*batchOptions)

// WithBatchConfig replaces all tunables at once.
func WithBatchConfig(c BatchConfig) BatchOption {
	return func(o *batchOptions) { o.config = c }
}

// WithMaxQueueSize bounds the number of spans waiting for export.
func WithMaxQueueSize(n int) BatchOption {
	return func(o *batchOptions) { o.config.MaxQueueSize = n }
}

// WithMaxExportBatchSize bounds the number of spans per export call.
func WithMaxExportBatchSize(n int) BatchOption {
	return func(o *batchOptions) { o.config.MaxExportBatchSize = n }
}

// WithScheduledDelay sets the interval between periodic flushes.
func WithScheduledDelay(d time.Duration) BatchOption {
	return func(o *batchOptions) { o.config.ScheduledDelay = d }
}

// WithExportTimeout bounds each export call.
func WithExportTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) { o.config.ExportTimeout = d }
}

// WithBatchClock sets the clock driving the periodic flush.
func WithBatchClock(clock clockz.Clock) BatchOption {
	return func(o *batchOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBatchLogger sets the logger used for diagnostics.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(o *batchOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithExportErrorHandler registers a callback invoked after a failed or
// timed out export with the error and the number of spans discarded.
func WithExportErrorHandler(fn func(err error, dropped int)) BatchOption {
	return func(o *batchOptions) { o.onError = fn }
}

// BatchSpanProcessor buffers ended spans and exports them in batches from
// a background goroutine. OnEnd never blocks: when the queue is full the
// span is dropped and counted. At most one export is in flight; failed or
// timed out batches are discarded, never retried.
//
//nolint:govet // Field order optimized for functionality over memory
type BatchSpanProcessor struct {
	queue        []SpanData
	exporter     Exporter
	clock        clockz.Clock
	logger       *slog.Logger
	onError      func(err error, dropped int)
	flushCh      chan struct{}
	stopCh       chan struct{}
	done         chan struct{}
	config       BatchConfig
	mu           sync.Mutex
	exportMu     sync.Mutex
	stopOnce     sync.Once
	droppedCount atomic.Uint64
	failedCount  atomic.Uint64
	exported     atomic.Uint64
	stopped      atomic.Bool
}

// NewBatchSpanProcessor creates a processor and starts its worker.
func NewBatchSpanProcessor(exporter Exporter, opts ...BatchOption) *BatchSpanProcessor {
	o := batchOptions{
		config: NewBatchConfig(),
		clock:  clockz.RealClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, notes := o.config.normalize()
	for _, note := range notes {
		o.logger.Warn("invalid batch span processor configuration", "adjustment", note)
	}

	b := &BatchSpanProcessor{
		queue:    make([]SpanData, 0, min(cfg.MaxQueueSize, 64)),
		exporter: exporter,
		clock:    o.clock,
		logger:   o.logger,
		onError:  o.onError,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		config:   cfg,
	}
	go b.run()
	return b
}

// Config returns the effective configuration after validation.
func (b *BatchSpanProcessor) Config() BatchConfig {
	return b.config
}

// OnStart is a no-op.
func (*BatchSpanProcessor) OnStart(Context, *Span) {}

// OnEnd enqueues a sampled span. It never blocks on export.
func (b *BatchSpanProcessor) OnEnd(s SpanData) {
	if b.stopped.Load() || !s.SpanContext.IsSampled() {
		return
	}

	b.mu.Lock()
	// Shutdown sets stopped under mu, so a span appended here is always
	// seen by the final drain.
	if b.stopped.Load() {
		b.mu.Unlock()
		return
	}
	if len(b.queue) >= b.config.MaxQueueSize {
		b.mu.Unlock()
		b.droppedCount.Add(1)
		return
	}
	b.queue = append(b.queue, s)
	n := len(b.queue)
	b.mu.Unlock()

	if n >= b.config.MaxExportBatchSize {
		b.signalFlush()
	}
}

// signalFlush requests a flush. Requests made while one is pending coalesce.
func (b *BatchSpanProcessor) signalFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// run is the worker loop: flush on the scheduled delay or on request.
func (b *BatchSpanProcessor) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stopCh:
			return
		case <-b.clock.After(b.config.ScheduledDelay):
			b.flushOnce(context.Background())
		case <-b.flushCh:
			b.flushOnce(context.Background())
		}
	}
}

// flushOnce exports at most one batch. If a full batch is still waiting
// afterwards, another flush is requested.
func (b *BatchSpanProcessor) flushOnce(ctx context.Context) {
	b.exportMu.Lock()
	batch := b.dequeue()
	if len(batch) > 0 {
		b.export(ctx, batch)
	}
	b.exportMu.Unlock()

	if b.QueueLength() >= b.config.MaxExportBatchSize {
		b.signalFlush()
	}
}

// dequeue removes up to MaxExportBatchSize of the oldest spans.
func (b *BatchSpanProcessor) dequeue() []SpanData {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(b.queue), b.config.MaxExportBatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]SpanData, n)
	copy(batch, b.queue[:n])

	remaining := copy(b.queue, b.queue[n:])
	for i := remaining; i < len(b.queue); i++ {
		b.queue[i] = SpanData{}
	}
	b.queue = b.queue[:remaining]
	return batch
}

// export hands batch to the exporter and waits at most ExportTimeout. A
// timed out export is abandoned; its eventual result is discarded.
// Must be called with exportMu held.
func (b *BatchSpanProcessor) export(ctx context.Context, batch []SpanData) {
	ctx, cancel := context.WithTimeout(ctx, b.config.ExportTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- safeExport(ctx, b.exporter, batch)
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = fmt.Errorf("export of %d spans abandoned: %w", len(batch), ctx.Err())
	}

	if err == nil {
		b.exported.Add(uint64(len(batch)))
		return
	}

	b.failedCount.Add(uint64(len(batch)))
	b.logger.Warn("span batch export failed",
		"batch.size", len(batch),
		"error", err,
	)
	if b.onError != nil {
		b.onError(err, len(batch))
	}
}

// ForceFlush exports everything currently queued, one batch per export
// call, and returns once the queue is empty and no export is in flight.
// If ctx has no deadline, ExportTimeout bounds the whole flush.
func (b *BatchSpanProcessor) ForceFlush(ctx context.Context) error {
	if b.stopped.Load() {
		return ErrProcessorShutdown
	}
	return b.drain(ctx)
}

func (b *BatchSpanProcessor) drain(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.ExportTimeout)
		defer cancel()
	}

	for {
		b.exportMu.Lock()
		if b.QueueLength() == 0 {
			b.exportMu.Unlock()
			return nil
		}
		if err := ctx.Err(); err != nil {
			b.exportMu.Unlock()
			return err
		}
		b.export(ctx, b.dequeue())
		b.exportMu.Unlock()
	}
}

// Shutdown stops the worker, flushes the queue and shuts the exporter
// down. The exporter is shut down even when ctx expires first; spans still
// queued at that point are discarded and counted as dropped. Later calls
// return nil without exporting again.
func (b *BatchSpanProcessor) Shutdown(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped.Store(true)
		b.mu.Unlock()
		close(b.stopCh)

		var flushErr error
		select {
		case <-b.done:
			flushErr = b.drain(ctx)
		case <-ctx.Done():
			flushErr = ctx.Err()
		}
		if n := b.discard(); n > 0 {
			b.droppedCount.Add(uint64(n))
			b.logger.Warn("spans discarded at shutdown", "dropped", n)
		}

		err = errors.Join(flushErr, safeShutdown(ctx, b.exporter))
	})
	return err
}

// discard empties the queue and returns how many spans it held.
func (b *BatchSpanProcessor) discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	clear(b.queue)
	b.queue = b.queue[:0]
	return n
}

// QueueLength returns the number of spans waiting for export.
func (b *BatchSpanProcessor) QueueLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// DroppedCount returns the number of spans dropped because the queue was
// full, plus any still queued when Shutdown ran out of time.
func (b *BatchSpanProcessor) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// FailedCount returns the number of spans discarded by failed or timed out exports.
func (b *BatchSpanProcessor) FailedCount() uint64 {
	return b.failedCount.Load()
}

// ExportedCount returns the number of spans exported successfully.
func (b *BatchSpanProcessor) ExportedCount() uint64 {
	return b.exported.Load()
}
