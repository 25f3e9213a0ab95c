package columnar

import (
	"fmt"
	"strconv"
	"strings"
)

// IDSeparator separates the block height prefix of a composite identifier
// from its suffix.
const IDSeparator = "-"

// ExtractNumericPrefix returns the block height encoded at the start of a
// composite identifier such as "0000001234-000002-abcde".
func ExtractNumericPrefix(id string) (int64, error) {
	head, _, ok := strings.Cut(id, IDSeparator)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no %q separator", ErrMalformedIdentifier, id, IDSeparator)
	}
	n, err := strconv.ParseUint(head, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: invalid height prefix %q", ErrMalformedIdentifier, id, head)
	}
	return int64(n), nil
}
