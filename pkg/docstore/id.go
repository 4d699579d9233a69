package docstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IDGenerator produces candidate document ids. A Collection keeps asking
// until it gets one that is not already in use.
type IDGenerator func() string

// NewUUIDGenerator returns the default generator: 32 lowercase hex chars.
func NewUUIDGenerator() IDGenerator {
	return func() string {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
}

// NewNumericGenerator returns a generator yielding prefix0, prefix1, ...
func NewNumericGenerator(prefix string, start int) IDGenerator {
	n := start

	return func() string {
		id := fmt.Sprintf("%s%d", prefix, n)
		n++

		return id
	}
}
