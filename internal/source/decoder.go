package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/substrate-archiver/internal/model"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DecodeLine parses one JSON block line.
func DecodeLine(raw []byte) (*model.BlockData, error) {
	var block model.BlockData
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := block.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &block, nil
}

// zstdReader closes both the decoder and the underlying input.
type zstdReader struct {
	dec *zstd.Decoder
	src io.Closer
}

func (z *zstdReader) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReader) Close() error {
	z.dec.Close()
	return z.src.Close()
}

type peekedReader struct {
	*bufio.Reader
	src io.Closer
}

func (p *peekedReader) Close() error { return p.src.Close() }

// newDecompressor returns rc unchanged unless it starts with a zstd frame.
func newDecompressor(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peek input: %w", err)
	}
	if !bytes.Equal(head, zstdMagic) {
		return &peekedReader{Reader: br, src: rc}, nil
	}

	dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdReader{dec: dec, src: rc}, nil
}
