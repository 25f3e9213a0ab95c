package archiver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/metadata"
	"github.com/withObsrvr/substrate-archiver/internal/metrics"
	"github.com/withObsrvr/substrate-archiver/internal/model"
	"github.com/withObsrvr/substrate-archiver/internal/pipeline"
)

// pipelines holds one pipeline per record kind.
type pipelines struct {
	blocks     *pipeline.Pipeline[model.Block]
	extrinsics *pipeline.Pipeline[model.Extrinsic]
	events     *pipeline.Pipeline[model.Event]
	calls      *pipeline.Pipeline[model.Call]
}

func (p *pipelines) rotate(ctx context.Context, height int64) error {
	for _, rotate := range []func(context.Context, int64) error{
		p.blocks.Rotate, p.extrinsics.Rotate, p.events.Rotate, p.calls.Rotate,
	} {
		if err := rotate(ctx, height); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipelines) closeInput() {
	p.blocks.CloseInput()
	p.extrinsics.CloseInput()
	p.events.CloseInput()
	p.calls.CloseInput()
}

// finish commits the last open file of every pipeline once all of them have
// drained without error. A failing worker never drains and cancels ctx, so
// nothing is committed at end of input.
func (p *pipelines) finish(ctx context.Context) {
	type finisher interface {
		Drained() <-chan struct{}
		Finish(commit bool)
	}
	all := []finisher{p.blocks, p.extrinsics, p.events, p.calls}
	for _, w := range all {
		select {
		case <-w.Drained():
		case <-ctx.Done():
			return
		}
	}
	for _, w := range all {
		w.Finish(true)
	}
}

func (p *pipelines) stats() map[string]pipeline.Stats {
	return map[string]pipeline.Stats{
		p.blocks.Kind():     p.blocks.Stats(),
		p.extrinsics.Kind(): p.extrinsics.Stats(),
		p.events.Kind():     p.events.Stats(),
		p.calls.Kind():      p.calls.Stats(),
	}
}

// Dispatcher fans decoded blocks out to the record pipelines and the
// metadata sidecar. It runs on a single goroutine.
type Dispatcher struct {
	p             *pipelines
	meta          metadata.Store
	blocksPerFile int64
	metrics       *metrics.Metrics
	logger        *slog.Logger

	resume      bool
	resumeAfter int64

	blocks      int64
	resumed     int64
	metaRows    int64
	firstHeight int64
	lastHeight  int64
}

// Dispatch submits one block's header, extrinsics, events and calls, then
// stores its runtime metadata if present. Blocks at or below the resume
// height are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, b *model.BlockData) error {
	h := int64(b.Header.Height)
	if d.resume && h <= d.resumeAfter {
		d.resumed++
		return nil
	}

	if err := d.p.blocks.Submit(ctx, []model.Block{b.Header}, h); err != nil {
		return err
	}
	if err := d.p.extrinsics.Submit(ctx, b.Extrinsics, h); err != nil {
		return err
	}
	if err := d.p.events.Submit(ctx, b.Events, h); err != nil {
		return err
	}
	if err := d.p.calls.Submit(ctx, b.Calls, h); err != nil {
		return err
	}

	if b.Metadata != nil {
		if err := d.meta.InsertMetadata(ctx, *b.Metadata); err != nil {
			d.metrics.IncMetadataErrors()
			return fmt.Errorf("%w: block %d metadata: %v", columnar.ErrIO, h, err)
		}
		d.metaRows++
		d.metrics.IncMetadataInserted()
		d.logger.Info("stored runtime metadata", "id", b.Metadata.ID, "block", h)
	}

	if d.blocksPerFile > 0 && h != 0 && h%d.blocksPerFile == 0 {
		if err := d.p.rotate(ctx, h); err != nil {
			return err
		}
	}

	if d.blocks == 0 || h < d.firstHeight {
		d.firstHeight = h
	}
	if d.blocks == 0 || h > d.lastHeight {
		d.lastHeight = h
	}
	d.blocks++
	d.metrics.IncBlocksDispatched(h)
	return nil
}
