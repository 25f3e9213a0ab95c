package columnar

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
)

// SortKey computes the row order applied to a batch before it is written.
// Implementations must return a stable ascending permutation with absent
// keys last.
type SortKey interface {
	Permutation(schema *Schema, cols []Column) ([]int, error)
	String() string
}

// ColumnKey orders rows by the physical values of one column: integers
// numerically, byte strings lexically, false before true.
func ColumnKey(name string) SortKey { return columnKey{name: name} }

type columnKey struct{ name string }

func (k columnKey) String() string { return k.name }

func (k columnKey) Permutation(schema *Schema, cols []Column) ([]int, error) {
	col, err := keyColumn(schema, cols, k.name)
	if err != nil {
		return nil, err
	}
	switch c := col.(type) {
	case *Buffer[[]byte]:
		return stablePermutation(c.Rows(), bytes.Compare), nil
	case *Buffer[int32]:
		return stablePermutation(c.Rows(), cmp.Compare[int32]), nil
	case *Buffer[int64]:
		return stablePermutation(c.Rows(), cmp.Compare[int64]), nil
	case *Buffer[bool]:
		return stablePermutation(c.Rows(), compareBool), nil
	default:
		return nil, fmt.Errorf("%w: sort column %s has unsupported type %T", ErrSchemaInvariant, k.name, col)
	}
}

// NumericPrefixKey orders rows of a composite identifier column by the
// block height prefix, then lexically by the full identifier.
func NumericPrefixKey(name string) SortKey { return numericPrefixKey{name: name} }

type numericPrefixKey struct{ name string }

func (k numericPrefixKey) String() string { return k.name + " (numeric prefix)" }

func (k numericPrefixKey) Permutation(schema *Schema, cols []Column) ([]int, error) {
	col, err := keyColumn(schema, cols, k.name)
	if err != nil {
		return nil, err
	}
	ids, ok := col.(*Buffer[[]byte])
	if !ok {
		return nil, fmt.Errorf("%w: numeric prefix key %s is not a byte array column", ErrSchemaInvariant, k.name)
	}

	type prefixed struct {
		height int64
		id     []byte
		ok     bool
	}
	rows := ids.Rows()
	keys := make([]prefixed, len(rows))
	for i, c := range rows {
		if !c.OK {
			continue
		}
		h, err := ExtractNumericPrefix(string(c.Value))
		if err != nil {
			return nil, err
		}
		keys[i] = prefixed{height: h, id: c.Value, ok: true}
	}

	perm := identity(len(keys))
	slices.SortStableFunc(perm, func(a, b int) int {
		ka, kb := keys[a], keys[b]
		if n, done := compareAbsent(ka.ok, kb.ok); done {
			return n
		}
		if n := cmp.Compare(ka.height, kb.height); n != 0 {
			return n
		}
		return bytes.Compare(ka.id, kb.id)
	})
	return perm, nil
}

func keyColumn(schema *Schema, cols []Column, name string) (Column, error) {
	i, ok := schema.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: sort column %s not in schema %s", ErrSchemaInvariant, name, schema.Name())
	}
	if i >= len(cols) {
		return nil, fmt.Errorf("%w: schema %s has %d columns, batch has %d", ErrSchemaInvariant, schema.Name(), schema.Len(), len(cols))
	}
	return cols[i], nil
}

func stablePermutation[T Value](cells []Cell[T], compare func(a, b T) int) []int {
	perm := identity(len(cells))
	slices.SortStableFunc(perm, func(a, b int) int {
		ca, cb := cells[a], cells[b]
		if n, done := compareAbsent(ca.OK, cb.OK); done {
			return n
		}
		return compare(ca.Value, cb.Value)
	})
	return perm
}

// compareAbsent sorts absent keys after present ones. done is false when
// both keys are present and need a value comparison.
func compareAbsent(a, b bool) (n int, done bool) {
	switch {
	case a && b:
		return 0, false
	case !a && !b:
		return 0, true
	case !a:
		return 1, true
	default:
		return -1, true
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func identity(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}
