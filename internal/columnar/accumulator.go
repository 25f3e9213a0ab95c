package columnar

import (
	"fmt"
)

// Accumulator collects records of one kind into column buffers until the
// owning pipeline hands them to a FileWriter as a row group. It is not safe
// for concurrent use.
type Accumulator[R any] struct {
	schema  *Schema
	sortKey SortKey
	slots   []slot[R]
	cols    []Column
	rows    int
}

// NewAccumulator builds an accumulator whose schema is the fields in order.
// sortKey may be nil, in which case batches keep insertion order.
func NewAccumulator[R any](kind string, sortKey SortKey, capacity int, fields ...Field[R]) (*Accumulator[R], error) {
	specs := make([]ColumnSpec, len(fields))
	for i, f := range fields {
		specs[i] = f.spec
	}
	schema, err := NewSchema(kind, specs...)
	if err != nil {
		return nil, err
	}

	a := &Accumulator[R]{
		schema:  schema,
		sortKey: sortKey,
		slots:   make([]slot[R], len(fields)),
		cols:    make([]Column, len(fields)),
	}
	for i, f := range fields {
		a.slots[i] = f.bind(capacity)
		a.cols[i] = a.slots[i].column()
	}

	if sortKey != nil {
		// Validates the key column against an empty batch.
		if _, err := sortKey.Permutation(schema, a.cols); err != nil {
			return nil, fmt.Errorf("sort key for %s: %w", kind, err)
		}
	}
	return a, nil
}

// Schema returns the physical schema of the accumulated columns.
func (a *Accumulator[R]) Schema() *Schema { return a.schema }

// SortKey returns the key applied by SortedColumns, or nil.
func (a *Accumulator[R]) SortKey() SortKey { return a.sortKey }

// Len returns the number of buffered rows.
func (a *Accumulator[R]) Len() int { return a.rows }

// Push appends one record to every column in schema order and returns the new
// row count. All fields are encoded before any column is touched, so a failed
// push leaves the accumulator unchanged.
func (a *Accumulator[R]) Push(rec R) (int, error) {
	for _, s := range a.slots {
		if err := s.stage(rec); err != nil {
			return a.rows, err
		}
	}
	for _, s := range a.slots {
		s.commit()
	}
	a.rows++
	return a.rows, nil
}

// Columns returns the live column buffers in insertion order.
func (a *Accumulator[R]) Columns() []Column { return a.cols }

// SortedColumns returns the buffered batch reordered by the sort key. The same
// permutation is applied to every column. Without a sort key the live buffers
// are returned; they are valid until Reset.
func (a *Accumulator[R]) SortedColumns() ([]Column, error) {
	for i, c := range a.cols {
		if c.Len() != a.rows {
			return nil, fmt.Errorf("%w: %s column %s has %d rows, expected %d",
				ErrSchemaInvariant, a.schema.Name(), a.schema.Column(i).Name, c.Len(), a.rows)
		}
	}
	if a.sortKey == nil {
		return a.cols, nil
	}

	perm, err := a.sortKey.Permutation(a.schema, a.cols)
	if err != nil {
		return nil, fmt.Errorf("sort %s by %s: %w", a.schema.Name(), a.sortKey, err)
	}
	out := make([]Column, len(a.cols))
	for i, c := range a.cols {
		if out[i], err = c.permute(perm); err != nil {
			return nil, fmt.Errorf("sort %s column %s: %w", a.schema.Name(), a.schema.Column(i).Name, err)
		}
	}
	return out, nil
}

// Reset drops all buffered rows.
func (a *Accumulator[R]) Reset() {
	for _, c := range a.cols {
		c.reset()
	}
	a.rows = 0
}
