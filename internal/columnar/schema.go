// Package columnar implements the in-memory half of the archive writer:
// typed column buffers with presence tracking, the per-kind row accumulator
// and the sort applied to every batch before it is materialized.
package columnar

import (
	"fmt"
)

// PhysicalType is the storage type of a column.
type PhysicalType int

const (
	ByteArray PhysicalType = iota
	Int32
	Int64
	Boolean
)

func (t PhysicalType) String() string {
	switch t {
	case ByteArray:
		return "byte_array"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Boolean:
		return "boolean"
	default:
		return fmt.Sprintf("physical(%d)", int(t))
	}
}

// LogicalType annotates how a physical column should be interpreted by readers.
type LogicalType int

const (
	NoLogical LogicalType = iota
	String
	JSON
	TimestampMillis
)

// ColumnSpec describes one column of a record kind.
type ColumnSpec struct {
	Name     string
	Type     PhysicalType
	Logical  LogicalType
	Optional bool
}

// Schema is the ordered, immutable list of columns for one record kind.
type Schema struct {
	name    string
	columns []ColumnSpec
	index   map[string]int
}

// NewSchema builds a schema. Column names must be unique and non-empty.
func NewSchema(name string, columns ...ColumnSpec) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: schema %s has no columns", ErrSchemaInvariant, name)
	}
	s := &Schema{
		name:    name,
		columns: make([]ColumnSpec, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: schema %s column %d has no name", ErrSchemaInvariant, name, i)
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: schema %s has duplicate column %q", ErrSchemaInvariant, name, c.Name)
		}
		s.columns[i] = c
		s.index[c.Name] = i
	}
	return s, nil
}

// Name returns the record kind the schema describes.
func (s *Schema) Name() string { return s.name }

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Column returns the i-th column.
func (s *Schema) Column(i int) ColumnSpec { return s.columns[i] }

// Columns returns a copy of the column list in declaration order.
func (s *Schema) Columns() []ColumnSpec {
	out := make([]ColumnSpec, len(s.columns))
	copy(out, s.columns)
	return out
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}
