package columnar

import (
	"fmt"
)

// Value is the set of physical value types a Buffer can hold.
type Value interface {
	[]byte | int32 | int64 | bool
}

// Column is implemented by *Buffer[[]byte], *Buffer[int32], *Buffer[int64]
// and *Buffer[bool]. Writers switch on the concrete type.
type Column interface {
	Len() int
	Type() PhysicalType
	IsNull(row int) bool

	permute(perm []int) (Column, error)
	reset()
}

// Buffer holds the values of one column. Only present values are stored in
// values; presence has one flag per row.
type Buffer[T Value] struct {
	values   []T
	presence []bool
}

// NewBuffer returns an empty buffer with room for capacity rows.
func NewBuffer[T Value](capacity int) *Buffer[T] {
	return &Buffer[T]{
		values:   make([]T, 0, capacity),
		presence: make([]bool, 0, capacity),
	}
}

// Append adds a present value. The buffer keeps the reference for byte slices.
func (b *Buffer[T]) Append(v T) {
	b.values = append(b.values, v)
	b.presence = append(b.presence, true)
}

// AppendNull adds an absent row.
func (b *Buffer[T]) AppendNull() {
	b.presence = append(b.presence, false)
}

// Len returns the number of rows, present or not.
func (b *Buffer[T]) Len() int { return len(b.presence) }

// Count returns the number of present values.
func (b *Buffer[T]) Count() int { return len(b.values) }

// Values returns the dense present values in row order.
func (b *Buffer[T]) Values() []T { return b.values }

// Presence returns one flag per row.
func (b *Buffer[T]) Presence() []bool { return b.presence }

// IsNull reports whether row is absent.
func (b *Buffer[T]) IsNull(row int) bool { return !b.presence[row] }

// Type returns the physical type of T.
func (b *Buffer[T]) Type() PhysicalType {
	var zero T
	switch any(zero).(type) {
	case []byte:
		return ByteArray
	case int32:
		return Int32
	case int64:
		return Int64
	default:
		return Boolean
	}
}

// Rows expands the buffer to one entry per row; absent rows report ok=false.
func (b *Buffer[T]) Rows() []Cell[T] {
	out := make([]Cell[T], len(b.presence))
	j := 0
	for i, present := range b.presence {
		if present {
			out[i] = Cell[T]{Value: b.values[j], OK: true}
			j++
		}
	}
	return out
}

// Cell is one row of a column.
type Cell[T Value] struct {
	Value T
	OK    bool
}

// Permute returns a new buffer whose row i is row perm[i] of b.
// perm must be a permutation of [0, Len()).
func (b *Buffer[T]) Permute(perm []int) (*Buffer[T], error) {
	if len(perm) != len(b.presence) {
		return nil, fmt.Errorf("%w: permutation of %d rows applied to column of %d", ErrSchemaInvariant, len(perm), len(b.presence))
	}
	// dense[i] is the position of row i in values, -1 when absent.
	dense := make([]int, len(b.presence))
	j := 0
	for i, present := range b.presence {
		if present {
			dense[i] = j
			j++
		} else {
			dense[i] = -1
		}
	}
	out := NewBuffer[T](len(perm))
	seen := make([]bool, len(perm))
	for _, src := range perm {
		if src < 0 || src >= len(dense) || seen[src] {
			return nil, fmt.Errorf("%w: invalid permutation index %d", ErrSchemaInvariant, src)
		}
		seen[src] = true
		if dense[src] < 0 {
			out.AppendNull()
		} else {
			out.Append(b.values[dense[src]])
		}
	}
	return out, nil
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer[T]) Reset() {
	clear(b.values)
	b.values = b.values[:0]
	b.presence = b.presence[:0]
}

func (b *Buffer[T]) permute(perm []int) (Column, error) {
	out, err := b.Permute(perm)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Buffer[T]) reset() { b.Reset() }

var (
	_ Column = (*Buffer[[]byte])(nil)
	_ Column = (*Buffer[int32])(nil)
	_ Column = (*Buffer[int64])(nil)
	_ Column = (*Buffer[bool])(nil)
)
