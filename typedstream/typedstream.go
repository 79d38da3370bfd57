// Package typedstream recovers plaintext from the attributedBody blobs that
// modern Messages clients write instead of filling the text column. The blob
// is a legacy NeXTSTEP typedstream archive; rather than parse the whole
// container, Decode locates the NSString payload by its marker and reads the
// length-prefixed bytes that follow.
package typedstream

import (
	"bytes"
	"encoding/binary"
	"strings"
)

var (
	markerTag = []byte("NSString")

	// markerTail follows the tag after one version-dependent byte. That byte
	// is a don't-care slot: it differs across macOS releases, the bytes
	// around it do not.
	markerTail = []byte{0x94, 0x84, 0x01, 0x2b}
)

// Decode extracts the UTF-8 text payload from an attributedBody blob.
// It is total: any input, however malformed, yields ("", false) rather than
// an error. Invalid UTF-8 sequences in the payload are replaced with U+FFFD,
// keeping the legible part of a damaged body.
func Decode(b []byte) (string, bool) {
	pos := findMarker(b)
	if pos < 0 {
		return "", false
	}

	length, n, ok := readLength(b[pos:])
	if !ok {
		return "", false
	}

	start := pos + n
	if length < 0 || start+length > len(b) {
		return "", false
	}

	return strings.ToValidUTF8(string(b[start:start+length]), "�"), true
}

// findMarker returns the offset just past the marker (where the length
// header starts), or -1 if no marker exists. The byte between tag and tail
// matches anything.
func findMarker(b []byte) int {
	for i := 0; i < len(b); {
		j := bytes.Index(b[i:], markerTag)
		if j < 0 {
			return -1
		}
		tail := i + j + len(markerTag) + 1
		if tail+len(markerTail) <= len(b) && bytes.Equal(b[tail:tail+len(markerTail)], markerTail) {
			return tail + len(markerTail)
		}
		i += j + 1
	}
	return -1
}

// readLength decodes the payload length header at the start of b and returns
// the length plus the number of header bytes consumed.
//
//	0x00..0x7f  the byte is the length
//	0x81        2-byte big-endian length follows
//	0x82        4-byte big-endian length follows
func readLength(b []byte) (length, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch h := b[0]; {
	case h < 0x80:
		return int(h), 1, true
	case h == 0x81:
		if len(b) < 3 {
			return 0, 0, false
		}
		return int(binary.BigEndian.Uint16(b[1:3])), 3, true
	case h == 0x82:
		if len(b) < 5 {
			return 0, 0, false
		}
		v := binary.BigEndian.Uint32(b[1:5])
		if int64(v) > int64(^uint(0)>>1) {
			return 0, 0, false
		}
		return int(v), 5, true
	default:
		return 0, 0, false
	}
}
