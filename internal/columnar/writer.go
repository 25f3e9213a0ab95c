package columnar

import (
	"context"
)

// FileInfo describes a committed file.
type FileInfo struct {
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Rows      int64  `json:"rows"`
	RowGroups int    `json:"row_groups"`
	Bytes     int64  `json:"bytes"`
	Checksum  string `json:"checksum"`
}

// FileWriter writes one columnar file. Each WriteRowGroup call produces one
// row group from columns laid out in schema order.
type FileWriter interface {
	WriteRowGroup(cols []Column) error

	// Close finalizes the file and publishes it under name.
	Close(ctx context.Context, name string) (FileInfo, error)

	// Abort discards the file without publishing it.
	Abort()
}

// FileCreator opens FileWriters for a record kind.
type FileCreator interface {
	Create(ctx context.Context, kind string, schema *Schema) (FileWriter, error)
}
