package process

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxLineSize bounds a single output line; tool output beyond this is split
// by the scanner rather than aborting the stream.
const maxLineSize = 1024 * 1024

// decodeLine converts raw tool output into a string, preserving byte
// sequences that are not valid UTF-8 as escaped hex rather than dropping
// them or substituting replacement runes. Misbehaving tools must never be
// able to corrupt or truncate the captured log.
func decodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\x%02x`, raw[0])
		} else {
			b.Write(raw[:size])
		}
		raw = raw[size:]
	}
	return b.String()
}
