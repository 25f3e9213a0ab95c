// Package source reads block lines: one JSON object per line, optionally
// zstd compressed, from stdin, local files or a blob bucket.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/withObsrvr/substrate-archiver/internal/logging"
	"github.com/withObsrvr/substrate-archiver/internal/model"
)

// ErrDecode marks a line that is not a valid block. The reader can continue
// past it.
var ErrDecode = errors.New("decode block line")

// input is one file or object in read order.
type input struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
}

// Line is one streamed input line. Exactly one of Block and Err is set.
type Line struct {
	Input  string
	Number int
	Block  *model.BlockData
	Err    error
}

// Reader yields blocks from a sequence of inputs.
type Reader struct {
	ctx     context.Context
	inputs  []input
	cleanup func() error
	logger  *slog.Logger

	cur    io.ReadCloser
	br     *bufio.Reader
	name   string
	number int
}

// NewReader reads blocks from r alone.
func NewReader(r io.Reader, name string) *Reader {
	return newReader(context.Background(), []input{{
		name: name,
		open: func(context.Context) (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}}, nil)
}

func newReader(ctx context.Context, inputs []input, cleanup func() error) *Reader {
	return &Reader{
		ctx:     ctx,
		inputs:  inputs,
		cleanup: cleanup,
		logger:  logging.Component("source"),
	}
}

// Next returns the next block. Errors wrapping ErrDecode concern a single
// line; any other error ends the stream. Next returns io.EOF after the last
// input.
func (r *Reader) Next() (*model.BlockData, error) {
	for {
		if r.br == nil {
			if len(r.inputs) == 0 {
				return nil, io.EOF
			}
			if err := r.advance(); err != nil {
				return nil, err
			}
		}

		raw, err := r.br.ReadBytes('\n')
		if len(raw) > 0 {
			r.number++
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s line %d: %w", r.name, r.number+1, err)
		}
		if errors.Is(err, io.EOF) {
			if cerr := r.closeCurrent(); cerr != nil {
				return nil, cerr
			}
		}

		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		block, derr := DecodeLine(raw)
		if derr != nil {
			return nil, fmt.Errorf("%s line %d: %w", r.name, r.number, derr)
		}
		return block, nil
	}
}

func (r *Reader) advance() error {
	in := r.inputs[0]
	r.inputs = r.inputs[1:]

	rc, err := in.open(r.ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.name, err)
	}
	dr, err := newDecompressor(rc)
	if err != nil {
		rc.Close()
		return fmt.Errorf("open %s: %w", in.name, err)
	}
	r.cur = dr
	r.br = bufio.NewReaderSize(dr, 1<<20)
	r.name = in.name
	r.number = 0
	r.logger.Debug("reading input", "input", in.name)
	return nil
}

func (r *Reader) closeCurrent() error {
	r.br = nil
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", r.name, err)
	}
	return nil
}

// Stream reads the remaining input on a goroutine. Lines that fail to decode
// are delivered with Err set. A read failure is sent on the error channel.
// Both channels are closed when reading stops.
//
// Cancellation is observed between lines. A goroutine blocked in a read on
// stdin stays blocked until the read returns or the process exits.
func (r *Reader) Stream(ctx context.Context) (<-chan Line, <-chan error) {
	lineCh := make(chan Line, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(lineCh)
		defer close(errCh)

		for {
			block, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			line := Line{Input: r.name, Number: r.number, Block: block}
			if err != nil {
				if !errors.Is(err, ErrDecode) {
					errCh <- err
					return
				}
				line.Block, line.Err = nil, err
			}

			select {
			case lineCh <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lineCh, errCh
}

// Close releases the current input and any bucket behind the reader.
func (r *Reader) Close() error {
	err := r.closeCurrent()
	if r.cleanup != nil {
		if cerr := r.cleanup(); err == nil {
			err = cerr
		}
	}
	return err
}
