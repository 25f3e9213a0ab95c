package columnar

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field binds one column of a schema to an accessor on the record type R.
type Field[R any] struct {
	spec ColumnSpec
	bind func(capacity int) slot[R]
}

// Spec returns the column the field populates.
func (f Field[R]) Spec() ColumnSpec { return f.spec }

// slot is a field bound to its column buffer. stage encodes a record without
// touching the buffer; commit appends the staged value.
type slot[R any] interface {
	column() Column
	stage(rec R) error
	commit()
}

type typedSlot[R any, T Value] struct {
	buf     *Buffer[T]
	get     func(R) (T, bool, error)
	pending T
	ok      bool
}

func (s *typedSlot[R, T]) column() Column { return s.buf }

func (s *typedSlot[R, T]) stage(rec R) error {
	v, ok, err := s.get(rec)
	if err != nil {
		return err
	}
	s.pending, s.ok = v, ok
	return nil
}

func (s *typedSlot[R, T]) commit() {
	if s.ok {
		s.buf.Append(s.pending)
	} else {
		s.buf.AppendNull()
	}
	var zero T
	s.pending, s.ok = zero, false
}

func newField[R any, T Value](spec ColumnSpec, get func(R) (T, bool, error)) Field[R] {
	return Field[R]{
		spec: spec,
		bind: func(capacity int) slot[R] {
			return &typedSlot[R, T]{buf: NewBuffer[T](capacity), get: get}
		},
	}
}

// StringField is a required UTF-8 column.
func StringField[R any](name string, get func(R) string) Field[R] {
	return newField(ColumnSpec{Name: name, Type: ByteArray, Logical: String},
		func(r R) ([]byte, bool, error) { return []byte(get(r)), true, nil })
}

// OptionalStringField is a nullable UTF-8 column; nil means absent.
func OptionalStringField[R any](name string, get func(R) *string) Field[R] {
	return newField(ColumnSpec{Name: name, Type: ByteArray, Logical: String, Optional: true},
		func(r R) ([]byte, bool, error) {
			v := get(r)
			if v == nil {
				return nil, false, nil
			}
			return []byte(*v), true, nil
		})
}

// Int32Field is a required 32-bit integer column.
func Int32Field[R any](name string, get func(R) int32) Field[R] {
	return newField(ColumnSpec{Name: name, Type: Int32},
		func(r R) (int32, bool, error) { return get(r), true, nil })
}

// OptionalInt32Field is a nullable 32-bit integer column.
func OptionalInt32Field[R any](name string, get func(R) *int32) Field[R] {
	return newField(ColumnSpec{Name: name, Type: Int32, Optional: true},
		func(r R) (int32, bool, error) {
			v := get(r)
			if v == nil {
				return 0, false, nil
			}
			return *v, true, nil
		})
}

// Int64Field is a required 64-bit integer column.
func Int64Field[R any](name string, get func(R) int64) Field[R] {
	return newField(ColumnSpec{Name: name, Type: Int64},
		func(r R) (int64, bool, error) { return get(r), true, nil })
}

// TimestampField is a required millisecond timestamp column.
func TimestampField[R any](name string, get func(R) int64) Field[R] {
	return newField(ColumnSpec{Name: name, Type: Int64, Logical: TimestampMillis},
		func(r R) (int64, bool, error) { return get(r), true, nil })
}

// BoolField is a required boolean column.
func BoolField[R any](name string, get func(R) bool) Field[R] {
	return newField(ColumnSpec{Name: name, Type: Boolean},
		func(r R) (bool, bool, error) { return get(r), true, nil })
}

// JSONField is a nullable column holding an opaque JSON value flattened to
// compact text. An empty value or a JSON null is stored as absent.
func JSONField[R any](name string, get func(R) json.RawMessage) Field[R] {
	return newField(ColumnSpec{Name: name, Type: ByteArray, Logical: JSON, Optional: true},
		func(r R) ([]byte, bool, error) {
			raw := get(r)
			if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				return nil, false, nil
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				return nil, false, fmt.Errorf("%w: column %s: %v", ErrEncoding, name, err)
			}
			return buf.Bytes(), true, nil
		})
}
