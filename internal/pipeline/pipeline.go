// Package pipeline runs one record kind from submission to published files:
// a bounded queue feeding a single worker that owns the accumulator, the
// rotation counters and the open file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/metrics"
	"github.com/withObsrvr/substrate-archiver/internal/tables"
)

var (
	// ErrClosed is returned by Submit after the worker has exited.
	ErrClosed = errors.New("pipeline closed")

	// ErrAborted is returned by Run when Finish(false) discards the open file.
	ErrAborted = errors.New("pipeline aborted")
)

// Options configures a Pipeline.
type Options struct {
	// QueueCapacity bounds outstanding submissions, queued or in process.
	QueueCapacity int

	RowsPerRowGroup int
	RowsPerFile     int

	Naming        Naming
	FirstSequence int64

	// FlushOnClose writes the partial row group when input ends. When false
	// buffered rows are dropped and only complete row groups are kept.
	FlushOnClose bool

	// CommitOnFinish holds the last open file after the queue drains until
	// Finish is called. Without it the drained worker commits on its own.
	CommitOnFinish bool

	// Error policy for individual records.
	SkipMalformedIDs bool
	SkipEncoding     bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats summarizes a finished pipeline.
type Stats struct {
	Pushed     int64
	Skipped    int64
	Dropped    int64
	RowGroups  int
	LastHeight int64
	Files      []columnar.FileInfo
}

type message[R any] struct {
	records []R
	height  int64
	rotate  bool
}

// Pipeline accepts records of one kind and writes them through a
// columnar.FileCreator.
type Pipeline[R any] struct {
	kind     string
	acc      *columnar.Accumulator[R]
	blockNum func(R) (int64, error)
	creator  columnar.FileCreator
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	queue     chan message[R]
	slots     chan struct{}
	done       chan struct{}
	err        error
	closeOnce  sync.Once
	drained    chan struct{}
	finish     chan bool
	finishOnce sync.Once

	// Owned by the worker.
	rotation *Rotation
	names    *namer
	file     columnar.FileWriter
	stats    Stats
}

// New creates a pipeline for table. Call Run to start the worker.
func New[R any](table *tables.Table[R], creator columnar.FileCreator, opts Options) (*Pipeline[R], error) {
	if opts.QueueCapacity <= 0 {
		return nil, fmt.Errorf("%s pipeline: queue capacity must be positive, got %d", table.Kind, opts.QueueCapacity)
	}
	rotation, err := NewRotation(opts.RowsPerRowGroup, opts.RowsPerFile)
	if err != nil {
		return nil, fmt.Errorf("%s pipeline: %w", table.Kind, err)
	}
	if opts.Naming == "" {
		opts.Naming = NamingHeight
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.PipelineLogger(table.Kind)
	}

	return &Pipeline[R]{
		kind:     table.Kind,
		acc:      table.Accumulator,
		blockNum: table.BlockNum,
		creator:  creator,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		queue:    make(chan message[R], opts.QueueCapacity),
		slots:    make(chan struct{}, opts.QueueCapacity),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
		finish:   make(chan bool, 1),
		rotation: rotation,
		names:    newNamer(opts.Naming, opts.FirstSequence),
	}, nil
}

// Kind returns the record kind.
func (p *Pipeline[R]) Kind() string { return p.kind }

// Submit enqueues the records of one block. It returns once the message is
// queued and blocks while QueueCapacity submissions are outstanding.
func (p *Pipeline[R]) Submit(ctx context.Context, records []R, height int64) error {
	return p.send(ctx, message[R]{records: records, height: height})
}

// Rotate asks the worker to write its partial row group and close the open
// file, naming it after height.
func (p *Pipeline[R]) Rotate(ctx context.Context, height int64) error {
	return p.send(ctx, message[R]{height: height, rotate: true})
}

func (p *Pipeline[R]) send(ctx context.Context, msg message[R]) error {
	if p.exited() {
		return p.closedErr()
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.closedErr()
	}
	// The worker may have exited while the slot was free.
	if p.exited() {
		<-p.slots
		return p.closedErr()
	}
	p.metrics.SetQueueDepth(p.kind, len(p.slots))
	// Holding a slot guarantees room in the queue.
	p.queue <- msg
	return nil
}

func (p *Pipeline[R]) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pipeline[R]) closedErr() error {
	if p.err != nil {
		return p.err
	}
	return ErrClosed
}

// CloseInput signals that no more records will be submitted. Run drains the
// queue and returns, after Finish when CommitOnFinish is set.
func (p *Pipeline[R]) CloseInput() {
	p.closeOnce.Do(func() { close(p.queue) })
}

// Drained is closed once the worker has handled every submission after
// CloseInput and written its partial row group. With CommitOnFinish the open
// file stays staged until Finish.
func (p *Pipeline[R]) Drained() <-chan struct{} { return p.drained }

// Finish releases a drained worker waiting under CommitOnFinish: commit true
// publishes the open file, false discards it. Only the first call counts.
func (p *Pipeline[R]) Finish(commit bool) {
	p.finishOnce.Do(func() { p.finish <- commit })
}

// Run processes submissions in FIFO order until CloseInput is called or ctx
// is cancelled. On error or cancellation the open file is discarded.
func (p *Pipeline[R]) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil && p.file != nil {
			p.file.Abort()
			p.file = nil
		}
		p.err = err
		close(p.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.queue:
			if !ok {
				// Cancellation wins over a closed queue: nothing is published.
				if err := ctx.Err(); err != nil {
					return err
				}
				return p.finishRun(ctx)
			}
			err := p.handle(ctx, msg)
			<-p.slots
			p.metrics.SetQueueDepth(p.kind, len(p.slots))
			if err != nil {
				return fmt.Errorf("%s pipeline at block %d: %w", p.kind, msg.height, err)
			}
		}
	}
}

// Stats returns the pipeline summary. It is valid once Run has returned.
func (p *Pipeline[R]) Stats() Stats {
	s := p.stats
	s.Files = append([]columnar.FileInfo(nil), p.stats.Files...)
	return s
}

// Files returns the files committed by the worker. It is valid once Run has
// returned.
func (p *Pipeline[R]) Files() []columnar.FileInfo {
	return append([]columnar.FileInfo(nil), p.stats.Files...)
}

func (p *Pipeline[R]) handle(ctx context.Context, msg message[R]) error {
	p.stats.LastHeight = msg.height
	if msg.rotate {
		return p.rotate(ctx, msg.height)
	}

	pushed := 0
	defer func() { p.metrics.AddRecordsPushed(p.kind, pushed) }()

	for _, rec := range msg.records {
		if err := p.checkBlock(rec, msg.height); err != nil {
			if p.opts.SkipMalformedIDs {
				p.skip("malformed_id", msg.height, err)
				continue
			}
			return err
		}
		if _, err := p.acc.Push(rec); err != nil {
			if errors.Is(err, columnar.ErrEncoding) && p.opts.SkipEncoding {
				p.skip("encoding", msg.height, err)
				continue
			}
			return err
		}
		pushed++
		p.stats.Pushed++

		flushGroup, closeFile := p.rotation.Observe()
		if flushGroup {
			if err := p.flushGroup(ctx); err != nil {
				return err
			}
		}
		if closeFile {
			if err := p.closeFile(ctx, msg.height); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline[R]) checkBlock(rec R, height int64) error {
	n, err := p.blockNum(rec)
	if err != nil {
		return err
	}
	if n != height {
		return fmt.Errorf("%w: record of block %d submitted with block %d", columnar.ErrMalformedIdentifier, n, height)
	}
	return nil
}

func (p *Pipeline[R]) skip(reason string, height int64, err error) {
	p.stats.Skipped++
	p.metrics.IncRecordsSkipped(p.kind, reason)
	p.logger.Warn("skipping record", "block", height, "reason", reason, "error", err)
}

func (p *Pipeline[R]) rotate(ctx context.Context, height int64) error {
	if p.acc.Len() > 0 {
		if err := p.flushGroup(ctx); err != nil {
			return err
		}
	}
	p.rotation.Reset()
	return p.closeFile(ctx, height)
}

func (p *Pipeline[R]) flushGroup(ctx context.Context) error {
	start := time.Now()
	rows := p.acc.Len()

	cols, err := p.acc.SortedColumns()
	if err != nil {
		return err
	}
	if p.file == nil {
		if p.file, err = p.creator.Create(ctx, p.kind, p.acc.Schema()); err != nil {
			return err
		}
	}
	if err := p.file.WriteRowGroup(cols); err != nil {
		return err
	}
	p.acc.Reset()
	p.stats.RowGroups++

	elapsed := time.Since(start)
	p.metrics.ObserveRowGroup(p.kind, elapsed.Seconds())
	p.logger.Debug("row group written", "rows", rows, "sort_key", p.acc.SortKey(), "duration", elapsed)
	return nil
}

func (p *Pipeline[R]) closeFile(ctx context.Context, height int64) error {
	if p.file == nil {
		return nil
	}
	name := p.names.next(height)
	info, err := p.file.Close(ctx, name)
	p.file = nil
	if err != nil {
		return err
	}
	p.stats.Files = append(p.stats.Files, info)
	p.metrics.ObserveFileCommitted(p.kind, info.Bytes)
	p.logger.Info("file committed",
		"key", info.Key,
		"rows", info.Rows,
		"row_groups", info.RowGroups,
		"bytes", info.Bytes,
	)
	return nil
}

func (p *Pipeline[R]) finishRun(ctx context.Context) error {
	if err := p.drain(ctx); err != nil {
		return err
	}
	close(p.drained)
	if p.opts.CommitOnFinish {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case commit := <-p.finish:
			if !commit {
				return ErrAborted
			}
		}
	}
	if err := p.closeFile(ctx, p.stats.LastHeight); err != nil {
		return fmt.Errorf("%s pipeline drain: %w", p.kind, err)
	}
	return nil
}

// drain writes or drops the partial row group. The open file is left to
// finishRun.
func (p *Pipeline[R]) drain(ctx context.Context) error {
	if n := p.acc.Len(); n > 0 {
		if p.opts.FlushOnClose {
			if err := p.flushGroup(ctx); err != nil {
				return fmt.Errorf("%s pipeline drain: %w", p.kind, err)
			}
		} else {
			p.stats.Dropped += int64(n)
			p.acc.Reset()
			p.logger.Warn("dropping buffered rows on close", "rows", n)
		}
	}
	p.rotation.Reset()
	return nil
}
