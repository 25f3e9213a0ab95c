package pipeline

import (
	"fmt"
	"strconv"
)

// Rotation tracks when a pipeline must write a row group and when it must
// close its current file. Both counters advance once per pushed row.
type Rotation struct {
	RowsPerRowGroup int
	RowsPerFile     int

	rowsInGroup int
	rowsInFile  int
}

// NewRotation validates the thresholds.
func NewRotation(rowsPerRowGroup, rowsPerFile int) (*Rotation, error) {
	if rowsPerRowGroup <= 0 {
		return nil, fmt.Errorf("rows per row group must be positive, got %d", rowsPerRowGroup)
	}
	if rowsPerFile <= 0 {
		return nil, fmt.Errorf("rows per file must be positive, got %d", rowsPerFile)
	}
	return &Rotation{RowsPerRowGroup: rowsPerRowGroup, RowsPerFile: rowsPerFile}, nil
}

// Observe counts one pushed row. closeFile implies flushGroup: the pending
// partial group is written before the file is closed.
func (r *Rotation) Observe() (flushGroup, closeFile bool) {
	r.rowsInGroup++
	r.rowsInFile++
	if r.rowsInFile >= r.RowsPerFile {
		r.rowsInGroup, r.rowsInFile = 0, 0
		return true, true
	}
	if r.rowsInGroup >= r.RowsPerRowGroup {
		r.rowsInGroup = 0
		return true, false
	}
	return false, false
}

// Reset zeroes both counters after a forced rotation.
func (r *Rotation) Reset() {
	r.rowsInGroup, r.rowsInFile = 0, 0
}

// Pending returns the rows counted toward the current group and file.
func (r *Rotation) Pending() (group, file int) {
	return r.rowsInGroup, r.rowsInFile
}

// Naming selects how closed files are named.
type Naming string

const (
	// NamingHeight names a file after the block height that closed it.
	NamingHeight Naming = "height"
	// NamingSequence names files 0, 1, 2, ... per record kind.
	NamingSequence Naming = "sequence"
)

// ParseNaming validates a naming setting.
func ParseNaming(s string) (Naming, error) {
	switch Naming(s) {
	case "", NamingHeight:
		return NamingHeight, nil
	case NamingSequence:
		return NamingSequence, nil
	default:
		return "", fmt.Errorf("unknown file naming %q (want height or sequence)", s)
	}
}

// namer hands out unique file names within one pipeline.
type namer struct {
	mode Naming
	seq  int64
	used map[string]int
}

func newNamer(mode Naming, start int64) *namer {
	return &namer{mode: mode, seq: start, used: make(map[string]int)}
}

// next returns the name for a file closed at height. Two files closed at the
// same height get "<h>", "<h>_1", "<h>_2", ...
func (n *namer) next(height int64) string {
	if n.mode == NamingSequence {
		name := strconv.FormatInt(n.seq, 10)
		n.seq++
		return name
	}
	base := strconv.FormatInt(height, 10)
	c := n.used[base]
	n.used[base] = c + 1
	if c == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(c)
}
