package parquetio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/storage"
)

func testSchema(t *testing.T) *columnar.Schema {
	t.Helper()
	s, err := columnar.NewSchema("block",
		columnar.ColumnSpec{Name: "id", Type: columnar.ByteArray, Logical: columnar.String},
		columnar.ColumnSpec{Name: "height", Type: columnar.Int32},
		columnar.ColumnSpec{Name: "validator", Type: columnar.ByteArray, Logical: columnar.String, Optional: true},
		columnar.ColumnSpec{Name: "timestamp", Type: columnar.Int64, Logical: columnar.TimestampMillis},
		columnar.ColumnSpec{Name: "finalized", Type: columnar.Boolean, Optional: true},
	)
	require.NoError(t, err)
	return s
}

func testBatch(ids []string, validators []*string) []columnar.Column {
	id := columnar.NewBuffer[[]byte](len(ids))
	height := columnar.NewBuffer[int32](len(ids))
	validator := columnar.NewBuffer[[]byte](len(ids))
	ts := columnar.NewBuffer[int64](len(ids))
	fin := columnar.NewBuffer[bool](len(ids))
	for i, s := range ids {
		id.Append([]byte(s))
		height.Append(int32(i + 1))
		if validators[i] == nil {
			validator.AppendNull()
			fin.AppendNull()
		} else {
			validator.Append([]byte(*validators[i]))
			fin.Append(true)
		}
		ts.Append(int64(1000 * (i + 1)))
	}
	return []columnar.Column{id, height, validator, ts, fin}
}

func strPtr(s string) *string { return &s }

func openParquet(t *testing.T, path string) *parquet.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)
	return pf
}

func readRows(t *testing.T, rg parquet.RowGroup) []parquet.Row {
	t.Helper()
	rows := rg.Rows()
	defer rows.Close()
	out := make([]parquet.Row, 0, rg.NumRows())
	buf := make([]parquet.Row, 16)
	for {
		n, err := rows.ReadRows(buf)
		for _, r := range buf[:n] {
			out = append(out, r.Clone())
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return out
}

func TestCreatorWritesRowGroups(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "")
	require.NoError(t, err)

	creator, err := NewCreator(store, Options{Compression: "zstd", Version: "test"})
	require.NoError(t, err)

	ctx := context.Background()
	schema := testSchema(t)
	fw, err := creator.Create(ctx, "block", schema)
	require.NoError(t, err)

	require.NoError(t, fw.WriteRowGroup(testBatch([]string{"1-a", "2-b"}, []*string{strPtr("v1"), nil})))
	require.NoError(t, fw.WriteRowGroup(testBatch([]string{"3-c"}, []*string{nil})))

	info, err := fw.Close(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "block/2.parquet", info.Key)
	assert.Equal(t, int64(3), info.Rows)
	assert.Equal(t, 2, info.RowGroups)
	assert.NotEmpty(t, info.Checksum)

	pf := openParquet(t, filepath.Join(dir, "block", "2.parquet"))
	assert.Equal(t, int64(3), pf.NumRows())
	require.Len(t, pf.RowGroups(), 2)
	assert.Equal(t, int64(2), pf.RowGroups()[0].NumRows())
	assert.Equal(t, int64(1), pf.RowGroups()[1].NumRows())

	kind, ok := pf.Lookup("archiver.kind")
	assert.True(t, ok)
	assert.Equal(t, "block", kind)

	idCol, ok := pf.Schema().Lookup("id")
	require.True(t, ok)
	valCol, ok := pf.Schema().Lookup("validator")
	require.True(t, ok)
	finCol, ok := pf.Schema().Lookup("finalized")
	require.True(t, ok)

	rows := readRows(t, pf.RowGroups()[0])
	require.Len(t, rows, 2)
	assert.Equal(t, "1-a", string(rows[0][idCol.ColumnIndex].ByteArray()))
	assert.Equal(t, "v1", string(rows[0][valCol.ColumnIndex].ByteArray()))
	assert.True(t, rows[0][finCol.ColumnIndex].Boolean())
	assert.True(t, rows[1][valCol.ColumnIndex].IsNull())
	assert.True(t, rows[1][finCol.ColumnIndex].IsNull())
}

func TestWriteRowGroupRejectsNullInRequiredColumn(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	creator, err := NewCreator(store, Options{})
	require.NoError(t, err)

	fw, err := creator.Create(context.Background(), "block", testSchema(t))
	require.NoError(t, err)
	defer fw.Abort()

	cols := testBatch([]string{"1-a"}, []*string{nil})
	bad := columnar.NewBuffer[int32](1)
	bad.AppendNull()
	cols[1] = bad

	err = fw.WriteRowGroup(cols)
	assert.ErrorIs(t, err, columnar.ErrSchemaInvariant)
}

func TestWriteRowGroupRejectsMismatchedBatch(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	creator, err := NewCreator(store, Options{})
	require.NoError(t, err)

	fw, err := creator.Create(context.Background(), "block", testSchema(t))
	require.NoError(t, err)
	defer fw.Abort()

	cols := testBatch([]string{"1-a", "2-b"}, []*string{nil, nil})

	// Wrong physical type for "height".
	wrongType := append([]columnar.Column{}, cols...)
	wrongType[1] = columnar.NewBuffer[int64](0)
	assert.ErrorIs(t, fw.WriteRowGroup(wrongType), columnar.ErrSchemaInvariant)

	// Ragged columns.
	short := columnar.NewBuffer[int32](1)
	short.Append(1)
	ragged := append([]columnar.Column{}, cols...)
	ragged[1] = short
	assert.ErrorIs(t, fw.WriteRowGroup(ragged), columnar.ErrSchemaInvariant)

	// Missing column.
	assert.ErrorIs(t, fw.WriteRowGroup(cols[:4]), columnar.ErrSchemaInvariant)
}

func TestAbortLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "")
	require.NoError(t, err)
	creator, err := NewCreator(store, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	fw, err := creator.Create(ctx, "event", testSchema(t))
	require.NoError(t, err)
	require.NoError(t, fw.WriteRowGroup(testBatch([]string{"1-a"}, []*string{nil})))
	fw.Abort()

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNewCreatorRejectsUnknownCompression(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = NewCreator(store, Options{Compression: "lzma"})
	assert.Error(t, err)
}
