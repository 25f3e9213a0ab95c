// Package archiver runs a full conversion: it reads block lines, dispatches
// them to one pipeline per record kind, and on a clean finish publishes the
// run manifest, records the files in the metadata sidecar and saves a
// checkpoint.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/substrate-archiver/internal/audit"
	"github.com/withObsrvr/substrate-archiver/internal/checkpoint"
	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/metadata"
	"github.com/withObsrvr/substrate-archiver/internal/metrics"
	"github.com/withObsrvr/substrate-archiver/internal/pipeline"
	"github.com/withObsrvr/substrate-archiver/internal/source"
	"github.com/withObsrvr/substrate-archiver/internal/storage"
	"github.com/withObsrvr/substrate-archiver/internal/tables"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Policy decides which per-record failures are skipped instead of ending the
// run. I/O and schema failures are always fatal.
type Policy struct {
	SkipDecode       bool
	SkipMalformedIDs bool
	SkipEncoding     bool
}

// DefaultPolicy skips undecodable lines and fails on everything else.
func DefaultPolicy() Policy {
	return Policy{SkipDecode: true}
}

// Options configures a run.
type Options struct {
	RowsPerFile     int
	RowsPerRowGroup int
	QueueCapacity   int
	BlocksPerFile   int64
	FlushOnClose    bool
	Naming          pipeline.Naming
	IDOrder         tables.IDOrder
	Policy          Policy
	InputName       string

	// Fresh discards any saved checkpoint before reading.
	Fresh bool

	// Audit receives one event per published run. Nil disables it.
	Audit audit.Emitter
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Blocks       int64
	Resumed      int64
	LinesSkipped int64
	MetadataRows int64
	FirstHeight  int64
	LastHeight   int64
	Interrupted  bool
	Files        []columnar.FileInfo
	Pipelines    map[string]pipeline.Stats
}

// Archiver wires the input, pipelines and sidecars together.
type Archiver struct {
	opts       Options
	store      storage.Store
	creator    columnar.FileCreator
	meta       metadata.Store
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New creates an archiver. meta and cp may be nil.
func New(opts Options, store storage.Store, creator columnar.FileCreator, meta metadata.Store, cp checkpoint.Manager, m *metrics.Metrics) *Archiver {
	if meta == nil {
		meta = metadata.Noop{}
	}
	if cp == nil {
		cp, _ = checkpoint.NewManager(checkpoint.Config{})
	}
	if opts.Audit == nil {
		opts.Audit = audit.Noop{}
	}
	return &Archiver{
		opts:       opts,
		store:      store,
		creator:    creator,
		meta:       meta,
		checkpoint: cp,
		metrics:    m,
		log:        logging.Component("archiver"),
	}
}

// Run reads r to the end. Cancelling ctx stops reading; everything already
// dispatched is still flushed and published. A fatal error in any pipeline
// aborts the open files of all pipelines and is returned.
func (a *Archiver) Run(ctx context.Context, r *source.Reader) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, res.RunID)
	log := logging.FromContext(ctx, a.log)
	start := time.Now()

	if a.opts.Fresh {
		if err := a.checkpoint.Clear(ctx); err != nil {
			return nil, err
		}
	}
	prev, err := checkpoint.Resume(ctx, a.checkpoint, a.opts.InputName)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	// Workers outlive ctx so an interrupt still drains; cancelWorkers aborts.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	g, gctx := errgroup.WithContext(workerCtx)

	p, err := a.startPipelines(g, gctx, prev)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		p:             p,
		meta:          a.meta,
		blocksPerFile: a.opts.BlocksPerFile,
		metrics:       a.metrics,
		logger:        logging.FromContext(ctx, logging.Component("dispatcher")),
	}
	if prev != nil {
		d.resume, d.resumeAfter = true, prev.LastBlockHeight
		log.Info("resuming from checkpoint", "after_block", prev.LastBlockHeight, "previous_run", prev.RunID)
	}

	log.Info("starting run",
		"input", a.opts.InputName,
		"rows_per_file", a.opts.RowsPerFile,
		"rows_per_row_group", a.opts.RowsPerRowGroup,
		"queue_capacity", a.opts.QueueCapacity,
		"blocks_per_file", a.opts.BlocksPerFile,
	)

	dispatchErr := a.dispatch(ctx, gctx, r, d, res)
	if dispatchErr != nil {
		cancelWorkers()
	}
	p.closeInput()
	if dispatchErr == nil {
		p.finish(gctx)
	}
	workerErr := g.Wait()

	res.Blocks, res.Resumed, res.MetadataRows = d.blocks, d.resumed, d.metaRows
	res.FirstHeight, res.LastHeight = d.firstHeight, d.lastHeight
	res.Pipelines = p.stats()
	for _, kind := range tables.Kinds {
		res.Files = append(res.Files, res.Pipelines[kind].Files...)
	}

	// A worker failure is the root cause; the dispatcher only saw its echo.
	// Workers cancelled because dispatch failed report context.Canceled.
	if dispatchErr != nil && (workerErr == nil || errors.Is(workerErr, context.Canceled)) {
		return res, dispatchErr
	}
	if workerErr != nil {
		return res, workerErr
	}

	if err := a.publish(ctx, res, prev); err != nil {
		return res, err
	}

	log.Info("run complete",
		"blocks", res.Blocks,
		"resumed", res.Resumed,
		"lines_skipped", res.LinesSkipped,
		"files", len(res.Files),
		"interrupted", res.Interrupted,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

func (a *Archiver) startPipelines(g *errgroup.Group, gctx context.Context, prev *checkpoint.Checkpoint) (*pipelines, error) {
	rpg := a.opts.RowsPerRowGroup
	base := pipeline.Options{
		QueueCapacity:    a.opts.QueueCapacity,
		RowsPerRowGroup:  rpg,
		RowsPerFile:      a.opts.RowsPerFile,
		Naming:           a.opts.Naming,
		FlushOnClose:     a.opts.FlushOnClose,
		CommitOnFinish:   true,
		SkipMalformedIDs: a.opts.Policy.SkipMalformedIDs,
		SkipEncoding:     a.opts.Policy.SkipEncoding,
		Metrics:          a.metrics,
	}
	optsFor := func(kind string) pipeline.Options {
		o := base
		o.Logger = logging.FromContext(gctx, logging.PipelineLogger(kind))
		if prev != nil {
			o.FirstSequence = prev.NextSequence[kind]
		}
		return o
	}

	blockT, err := tables.NewBlockTable(rpg)
	if err != nil {
		return nil, err
	}
	extrinsicT, err := tables.NewExtrinsicTable(rpg, a.opts.IDOrder)
	if err != nil {
		return nil, err
	}
	eventT, err := tables.NewEventTable(rpg, a.opts.IDOrder)
	if err != nil {
		return nil, err
	}
	callT, err := tables.NewCallTable(rpg, a.opts.IDOrder)
	if err != nil {
		return nil, err
	}

	p := &pipelines{}
	if p.blocks, err = pipeline.New(blockT, a.creator, optsFor(blockT.Kind)); err != nil {
		return nil, err
	}
	if p.extrinsics, err = pipeline.New(extrinsicT, a.creator, optsFor(extrinsicT.Kind)); err != nil {
		return nil, err
	}
	if p.events, err = pipeline.New(eventT, a.creator, optsFor(eventT.Kind)); err != nil {
		return nil, err
	}
	if p.calls, err = pipeline.New(callT, a.creator, optsFor(callT.Kind)); err != nil {
		return nil, err
	}

	g.Go(func() error { return p.blocks.Run(gctx) })
	g.Go(func() error { return p.extrinsics.Run(gctx) })
	g.Go(func() error { return p.events.Run(gctx) })
	g.Go(func() error { return p.calls.Run(gctx) })
	return p, nil
}

// dispatch feeds lines to d until the input ends, ctx is cancelled or a
// pipeline fails.
func (a *Archiver) dispatch(ctx, gctx context.Context, r *source.Reader, d *Dispatcher, res *Result) error {
	sctx, stop := context.WithCancel(ctx)
	defer stop()
	lines, errc := r.Stream(sctx)
	for {
		select {
		case <-ctx.Done():
			res.Interrupted = true
			logging.FromContext(ctx, a.log).Warn("interrupted, draining pipelines", "blocks", d.blocks)
			return nil
		case <-gctx.Done():
			return gctx.Err()
		case line, ok := <-lines:
			if !ok {
				// The reader closes errc before lines.
				if err := <-errc; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
			if line.Err != nil {
				if !a.opts.Policy.SkipDecode {
					return line.Err
				}
				res.LinesSkipped++
				a.metrics.IncLinesSkipped()
				logging.FromContext(ctx, a.log).Warn("skipping undecodable line", "input", line.Input, "line", line.Number, "error", line.Err)
				continue
			}
			if err := d.Dispatch(gctx, line.Block); err != nil {
				return fmt.Errorf("dispatch block %d: %w", line.Block.Header.Height, err)
			}
		}
	}
}

// publish writes the manifest, records files in the sidecar, emits the audit
// event and saves the checkpoint.
func (a *Archiver) publish(ctx context.Context, res *Result, prev *checkpoint.Checkpoint) error {
	// The run itself succeeded; finish bookkeeping even after an interrupt.
	ctx = context.WithoutCancel(ctx)

	v := ValidateRun(res)
	for _, w := range v.Warnings {
		logging.FromContext(ctx, a.log).Warn("run validation", "warning", w)
	}
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", columnar.ErrSchemaInvariant, err)
	}

	if len(res.Files) > 0 {
		m := buildManifest(res)
		if _, err := storage.WriteManifest(ctx, a.store, m); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		if err := a.meta.RecordFiles(ctx, res.RunID, res.Files); err != nil {
			a.metrics.IncMetadataErrors()
			return fmt.Errorf("record files: %w", err)
		}
		if err := a.opts.Audit.Emit(ctx, audit.FromManifest(m, a.store.URI(""))); err != nil {
			return fmt.Errorf("emit audit event: %w", err)
		}
	}

	if res.Blocks == 0 {
		return nil
	}
	var dropped int64
	for _, s := range res.Pipelines {
		dropped += s.Dropped
	}
	if dropped > 0 {
		logging.FromContext(ctx, a.log).Warn("not saving checkpoint: buffered rows were dropped", "rows", dropped)
		return nil
	}

	cp := &checkpoint.Checkpoint{
		RunID:           res.RunID,
		Input:           a.opts.InputName,
		LastBlockHeight: res.LastHeight,
		FilesCommitted:  len(res.Files),
		NextSequence:    make(map[string]int64, len(tables.Kinds)),
	}
	if prev != nil && prev.LastBlockHeight > cp.LastBlockHeight {
		cp.LastBlockHeight = prev.LastBlockHeight
	}
	for _, kind := range tables.Kinds {
		next := int64(len(res.Pipelines[kind].Files))
		if prev != nil {
			next += prev.NextSequence[kind]
		}
		cp.NextSequence[kind] = next
	}
	if err := a.checkpoint.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func buildManifest(res *Result) *storage.Manifest {
	byKind := make(map[string][]storage.TableInfo)
	for _, f := range res.Files {
		byKind[f.Kind] = append(byKind[f.Kind], storage.TableInfo{
			File:      f.Key,
			Checksum:  f.Checksum,
			RowCount:  f.Rows,
			RowGroups: f.RowGroups,
			ByteSize:  f.Bytes,
		})
	}
	for _, files := range byKind {
		sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
	}

	return &storage.Manifest{
		RunID:       res.RunID,
		FirstHeight: res.FirstHeight,
		LastHeight:  res.LastHeight,
		Tables:      byKind,
		Producer: storage.ProducerInfo{
			Name:    "substrate-archiver",
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: time.Now().UTC(),
	}
}
