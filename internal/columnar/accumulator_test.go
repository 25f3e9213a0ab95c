package columnar

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID     string
	Height int32
	Note   *string
	Args   json.RawMessage
	OK     bool
}

func testFields() []Field[testRecord] {
	return []Field[testRecord]{
		StringField("id", func(r testRecord) string { return r.ID }),
		Int32Field("height", func(r testRecord) int32 { return r.Height }),
		OptionalStringField("note", func(r testRecord) *string { return r.Note }),
		JSONField("args", func(r testRecord) json.RawMessage { return r.Args }),
		BoolField("ok", func(r testRecord) bool { return r.OK }),
	}
}

func strPtr(s string) *string { return &s }

func TestAccumulatorPush(t *testing.T) {
	acc, err := NewAccumulator("test", nil, 4, testFields()...)
	require.NoError(t, err)

	n, err := acc.Push(testRecord{ID: "1-0", Height: 1, Note: strPtr("x"), Args: json.RawMessage(`{ "a" : 1 }`)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = acc.Push(testRecord{ID: "2-0", Height: 2, Args: json.RawMessage(`null`), OK: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cols := acc.Columns()
	require.Len(t, cols, 5)
	for _, c := range cols {
		assert.Equal(t, 2, c.Len())
	}

	args := cols[3].(*Buffer[[]byte])
	assert.Equal(t, []bool{true, false}, args.Presence())
	assert.Equal(t, `{"a":1}`, string(args.Values()[0]))

	note := cols[2].(*Buffer[[]byte])
	assert.Equal(t, []bool{true, false}, note.Presence())
}

func TestAccumulatorPushEncodingErrorLeavesColumnsAligned(t *testing.T) {
	acc, err := NewAccumulator("test", nil, 4, testFields()...)
	require.NoError(t, err)

	_, err = acc.Push(testRecord{ID: "1-0", Height: 1})
	require.NoError(t, err)

	n, err := acc.Push(testRecord{ID: "2-0", Height: 2, Args: json.RawMessage(`{broken`)})
	require.ErrorIs(t, err, ErrEncoding)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, acc.Len())
	for _, c := range acc.Columns() {
		assert.Equal(t, 1, c.Len())
	}
}

func TestAccumulatorRejectsUnknownSortKey(t *testing.T) {
	_, err := NewAccumulator("test", ColumnKey("missing"), 1, testFields()...)
	assert.ErrorIs(t, err, ErrSchemaInvariant)

	_, err = NewAccumulator("test", NumericPrefixKey("height"), 1, testFields()...)
	assert.ErrorIs(t, err, ErrSchemaInvariant)
}

func TestSortedColumnsKeepsRowsTogether(t *testing.T) {
	acc, err := NewAccumulator("test", ColumnKey("height"), 16, testFields()...)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		h := int32(rng.Intn(10))
		rec := testRecord{ID: fmt.Sprintf("%d-%d", h, i), Height: h, OK: i%2 == 0}
		if i%3 == 0 {
			rec.Note = strPtr(rec.ID)
		}
		_, err := acc.Push(rec)
		require.NoError(t, err)
	}

	cols, err := acc.SortedColumns()
	require.NoError(t, err)

	ids := cols[0].(*Buffer[[]byte]).Rows()
	heights := cols[1].(*Buffer[int32]).Values()
	notes := cols[2].(*Buffer[[]byte]).Rows()
	oks := cols[4].(*Buffer[bool]).Values()

	require.True(t, sort.SliceIsSorted(heights, func(i, j int) bool { return heights[i] < heights[j] }))

	var lastSeq = map[int32]int{}
	for i := range ids {
		id := string(ids[i].Value)
		var h, seq int
		_, err := fmt.Sscanf(id, "%d-%d", &h, &seq)
		require.NoError(t, err)

		// Every column of the row came from the same record.
		assert.Equal(t, int32(h), heights[i])
		assert.Equal(t, seq%2 == 0, oks[i])
		if seq%3 == 0 {
			require.True(t, notes[i].OK)
			assert.Equal(t, id, string(notes[i].Value))
		} else {
			assert.False(t, notes[i].OK)
		}

		// Ties keep insertion order.
		if prev, ok := lastSeq[heights[i]]; ok {
			assert.Less(t, prev, seq)
		}
		lastSeq[heights[i]] = seq
	}
}

func TestSortedColumnsNullKeysLast(t *testing.T) {
	acc, err := NewAccumulator("test", ColumnKey("note"), 4, testFields()...)
	require.NoError(t, err)

	for _, r := range []testRecord{
		{ID: "1-0"},
		{ID: "1-1", Note: strPtr("b")},
		{ID: "1-2"},
		{ID: "1-3", Note: strPtr("a")},
	} {
		_, err := acc.Push(r)
		require.NoError(t, err)
	}

	cols, err := acc.SortedColumns()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1-3"), []byte("1-1"), []byte("1-0"), []byte("1-2")}, cols[0].(*Buffer[[]byte]).Values())
}

func TestSortedColumnsLexicalIdentifierOrder(t *testing.T) {
	acc, err := NewAccumulator("test", ColumnKey("id"), 4, testFields()...)
	require.NoError(t, err)

	for _, id := range []string{"9-0", "10-0", "100-0", "2-0"} {
		_, err := acc.Push(testRecord{ID: id})
		require.NoError(t, err)
	}

	cols, err := acc.SortedColumns()
	require.NoError(t, err)

	var got []string
	for _, v := range cols[0].(*Buffer[[]byte]).Values() {
		got = append(got, string(v))
	}
	// Byte order, not height order.
	assert.Equal(t, []string{"10-0", "100-0", "2-0", "9-0"}, got)
}

func TestSortedColumnsNumericPrefixOrder(t *testing.T) {
	acc, err := NewAccumulator("test", NumericPrefixKey("id"), 4, testFields()...)
	require.NoError(t, err)

	for _, id := range []string{"9-1", "10-0", "100-0", "2-0", "9-0"} {
		_, err := acc.Push(testRecord{ID: id})
		require.NoError(t, err)
	}

	cols, err := acc.SortedColumns()
	require.NoError(t, err)

	var got []string
	for _, v := range cols[0].(*Buffer[[]byte]).Values() {
		got = append(got, string(v))
	}
	assert.Equal(t, []string{"2-0", "9-0", "9-1", "10-0", "100-0"}, got)
}

func TestSortedColumnsNumericPrefixMalformed(t *testing.T) {
	acc, err := NewAccumulator("test", NumericPrefixKey("id"), 1, testFields()...)
	require.NoError(t, err)
	_, err = acc.Push(testRecord{ID: "nodash"})
	require.NoError(t, err)

	_, err = acc.SortedColumns()
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
}

func TestAccumulatorReset(t *testing.T) {
	acc, err := NewAccumulator("test", ColumnKey("height"), 2, testFields()...)
	require.NoError(t, err)
	_, err = acc.Push(testRecord{ID: "1-0", Height: 1})
	require.NoError(t, err)

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
	for _, c := range acc.Columns() {
		assert.Equal(t, 0, c.Len())
	}
}
