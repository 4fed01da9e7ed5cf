// Package ids generates entity identifiers without any coordination between
// execution contexts: a millisecond timestamp plus a random base36 suffix.
package ids

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SuffixLen is the fixed length of the random part of an id.
const SuffixLen = 9

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// uuid v4 fixes the version nibble in byte 6 and the variant bits in byte 8.
var randomBytes = [SuffixLen]int{0, 1, 2, 3, 4, 5, 9, 10, 11}

// New returns a fresh id for the current instant.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a fresh id whose time component is t.
func NewAt(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-" + suffix()
}

func suffix() string {
	u := uuid.New()
	buf := make([]byte, SuffixLen)
	for i, idx := range randomBytes {
		buf[i] = alphabet[int(u[idx])%len(alphabet)]
	}
	return string(buf)
}
