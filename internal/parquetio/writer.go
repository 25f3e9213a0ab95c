// Package parquetio materializes columnar batches as Parquet files on a
// storage.Store.
package parquetio

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/storage"
)

// Options configures the physical writer.
type Options struct {
	Compression    string // "snappy" | "zstd" | "gzip" | "none"
	PageBufferSize int
	Application    string
	Version        string
}

// Creator opens Parquet files on a store.
type Creator struct {
	store storage.Store
	opts  Options
}

// NewCreator returns a columnar.FileCreator writing to store.
func NewCreator(store storage.Store, opts Options) (*Creator, error) {
	if _, err := compressionCodec(opts.Compression); err != nil {
		return nil, err
	}
	if opts.PageBufferSize <= 0 {
		opts.PageBufferSize = 1024 * 1024
	}
	if opts.Application == "" {
		opts.Application = "substrate-archiver"
	}
	return &Creator{store: store, opts: opts}, nil
}

func compressionCodec(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "none", "uncompressed":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// Create stages a new file for kind. The file becomes visible only when the
// returned writer is closed.
func (c *Creator) Create(ctx context.Context, kind string, schema *columnar.Schema) (columnar.FileWriter, error) {
	ps, leaves, err := parquetSchema(schema)
	if err != nil {
		return nil, err
	}

	obj, err := c.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s file: %v", columnar.ErrIO, kind, err)
	}

	codec, _ := compressionCodec(c.opts.Compression)
	w := parquet.NewWriter(obj,
		ps,
		codec,
		parquet.CreatedBy(c.opts.Application, c.opts.Version, ""),
		parquet.DataPageStatistics(true),
		parquet.PageBufferSize(c.opts.PageBufferSize),
		parquet.KeyValueMetadata("archiver.kind", kind),
	)

	return &fileWriter{
		kind:   kind,
		schema: schema,
		leaves: leaves,
		w:      w,
		obj:    obj,
	}, nil
}

// leaf locates one schema column in the Parquet file.
type leaf struct {
	index  int
	maxDef int
}

// parquetSchema converts a columnar schema into a flat Parquet schema and
// returns the leaf position of every column in declaration order.
func parquetSchema(schema *columnar.Schema) (*parquet.Schema, []leaf, error) {
	group := parquet.Group{}
	for _, c := range schema.Columns() {
		node, err := nodeFor(c)
		if err != nil {
			return nil, nil, err
		}
		if c.Optional {
			node = parquet.Optional(node)
		} else {
			node = parquet.Required(node)
		}
		group[c.Name] = node
	}
	ps := parquet.NewSchema(schema.Name(), group)

	leaves := make([]leaf, schema.Len())
	for i, c := range schema.Columns() {
		lc, ok := ps.Lookup(c.Name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: column %s missing from parquet schema", columnar.ErrSchemaInvariant, c.Name)
		}
		leaves[i] = leaf{index: lc.ColumnIndex, maxDef: lc.MaxDefinitionLevel}
	}
	return ps, leaves, nil
}

func nodeFor(c columnar.ColumnSpec) (parquet.Node, error) {
	switch c.Type {
	case columnar.ByteArray:
		switch c.Logical {
		case columnar.String:
			return parquet.String(), nil
		case columnar.JSON:
			return parquet.JSON(), nil
		default:
			return parquet.Leaf(parquet.ByteArrayType), nil
		}
	case columnar.Int32:
		return parquet.Int(32), nil
	case columnar.Int64:
		if c.Logical == columnar.TimestampMillis {
			return parquet.Timestamp(parquet.Millisecond), nil
		}
		return parquet.Int(64), nil
	case columnar.Boolean:
		return parquet.Leaf(parquet.BooleanType), nil
	default:
		return nil, fmt.Errorf("%w: column %s has unknown type %s", columnar.ErrSchemaInvariant, c.Name, c.Type)
	}
}

type fileWriter struct {
	kind   string
	schema *columnar.Schema
	leaves []leaf
	w      *parquet.Writer
	obj    storage.ObjectWriter

	rows   int64
	groups int
}

// WriteRowGroup writes cols as one row group.
func (f *fileWriter) WriteRowGroup(cols []columnar.Column) error {
	if len(cols) != len(f.leaves) {
		return fmt.Errorf("%w: %s batch has %d columns, schema has %d", columnar.ErrSchemaInvariant, f.kind, len(cols), len(f.leaves))
	}
	if len(cols) == 0 {
		return nil
	}
	n := cols[0].Len()

	rows := make([]parquet.Row, n)
	for i := range rows {
		rows[i] = make(parquet.Row, len(f.leaves))
	}

	for j, col := range cols {
		spec := f.schema.Column(j)
		if col.Len() != n {
			return fmt.Errorf("%w: %s column %s has %d rows, expected %d", columnar.ErrSchemaInvariant, f.kind, spec.Name, col.Len(), n)
		}
		if col.Type() != spec.Type {
			return fmt.Errorf("%w: %s column %s is %s, schema says %s", columnar.ErrSchemaInvariant, f.kind, spec.Name, col.Type(), spec.Type)
		}

		var err error
		switch c := col.(type) {
		case *columnar.Buffer[[]byte]:
			err = fill(rows, c, spec, f.leaves[j], parquet.ByteArrayValue)
		case *columnar.Buffer[int32]:
			err = fill(rows, c, spec, f.leaves[j], parquet.Int32Value)
		case *columnar.Buffer[int64]:
			err = fill(rows, c, spec, f.leaves[j], parquet.Int64Value)
		case *columnar.Buffer[bool]:
			err = fill(rows, c, spec, f.leaves[j], parquet.BooleanValue)
		default:
			err = fmt.Errorf("%w: %s column %s has unsupported buffer %T", columnar.ErrSchemaInvariant, f.kind, spec.Name, col)
		}
		if err != nil {
			return err
		}
	}

	if _, err := f.w.WriteRows(rows); err != nil {
		return fmt.Errorf("%w: write %s rows: %v", columnar.ErrIO, f.kind, err)
	}
	if err := f.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s row group: %v", columnar.ErrIO, f.kind, err)
	}
	f.rows += int64(n)
	f.groups++
	return nil
}

func fill[T columnar.Value](rows []parquet.Row, b *columnar.Buffer[T], spec columnar.ColumnSpec, lf leaf, value func(T) parquet.Value) error {
	values := b.Values()
	j := 0
	for i, present := range b.Presence() {
		if !present {
			if !spec.Optional {
				return fmt.Errorf("%w: null in required column %s at row %d", columnar.ErrSchemaInvariant, spec.Name, i)
			}
			rows[i][lf.index] = parquet.NullValue().Level(0, 0, lf.index)
			continue
		}
		rows[i][lf.index] = value(values[j]).Level(0, lf.maxDef, lf.index)
		j++
	}
	return nil
}

// Close writes the footer and publishes the file as <kind>/<name>.parquet.
func (f *fileWriter) Close(ctx context.Context, name string) (columnar.FileInfo, error) {
	if err := f.w.Close(); err != nil {
		f.obj.Abort()
		return columnar.FileInfo{}, fmt.Errorf("%w: close %s file: %v", columnar.ErrIO, f.kind, err)
	}

	key := path.Join(f.kind, name+".parquet")
	info, err := f.obj.Commit(ctx, key)
	if err != nil {
		return columnar.FileInfo{}, fmt.Errorf("%w: commit %s: %v", columnar.ErrIO, key, err)
	}
	return columnar.FileInfo{
		Kind:      f.kind,
		Key:       key,
		Rows:      f.rows,
		RowGroups: f.groups,
		Bytes:     info.Size,
		Checksum:  info.Checksum,
	}, nil
}

// Abort discards the staged file.
func (f *fileWriter) Abort() {
	f.obj.Abort()
}

var _ columnar.FileCreator = (*Creator)(nil)
