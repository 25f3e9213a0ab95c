package archiver

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/substrate-archiver/internal/tables"
)

// ValidationResult contains the outcome of run validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Err joins the errors into one, or returns nil when validation passed.
func (v ValidationResult) Err() error {
	if v.Passed {
		return nil
	}
	return fmt.Errorf("run validation failed: %s", strings.Join(v.Errors, "; "))
}

// ValidateRun checks a finished run before it is published:
//   - every committed file has rows, row groups, bytes and a checksum
//   - file keys are unique
//   - the rows in each kind's files equal the rows pushed minus those dropped
//   - the block range is ordered
func ValidateRun(res *Result) ValidationResult {
	v := ValidationResult{Passed: true}
	fail := func(format string, args ...any) {
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
		v.Passed = false
	}

	if res.Blocks > 0 && res.FirstHeight > res.LastHeight {
		fail("first height %d after last height %d", res.FirstHeight, res.LastHeight)
	}

	seen := make(map[string]bool, len(res.Files))
	written := make(map[string]int64)
	for _, f := range res.Files {
		if seen[f.Key] {
			fail("file %s committed twice", f.Key)
		}
		seen[f.Key] = true

		if f.Rows <= 0 {
			fail("file %s has no rows", f.Key)
		}
		if f.RowGroups <= 0 {
			fail("file %s has no row groups", f.Key)
		}
		if f.Bytes <= 0 {
			fail("file %s is empty", f.Key)
		}
		switch {
		case f.Checksum == "":
			fail("missing checksum for %s", f.Key)
		case !strings.HasPrefix(f.Checksum, "sha256:"):
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("checksum for %s may be in non-standard format: %s", f.Key, f.Checksum[:min(20, len(f.Checksum))]))
		}

		written[f.Kind] += f.Rows
		v.RowCount += f.Rows
		v.ByteSize += f.Bytes
	}

	for _, kind := range tables.Kinds {
		s, ok := res.Pipelines[kind]
		if !ok {
			continue
		}
		if want := s.Pushed - s.Dropped; written[kind] != want {
			fail("%s: %d rows in files, expected %d (%d pushed, %d dropped)",
				kind, written[kind], want, s.Pushed, s.Dropped)
		}
	}
	return v
}
