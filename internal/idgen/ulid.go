// Package idgen generates ULIDs for Build rows so they sort lexically in
// creation order (spec: "Build: {id (ULID for time-ordering) ...}").
//
// No example repo in the retrieval pack pulls in a dedicated ULID library
// (the ones that need sortable ids reach for google/uuid or a database
// serial column instead), so this is a deliberate ~60-line stdlib
// implementation rather than an ungrounded third-party dependency: it is
// the standard Crockford base32 encoding of a 48-bit millisecond timestamp
// followed by 80 bits of crypto/rand randomness, same layout as the
// well-known ulid.org spec.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULID is a 26-character Crockford base32 string: 10 chars of timestamp,
// 16 chars of randomness.
type ULID string

// New returns a new ULID for the current instant.
func New() ULID {
	return NewAt(time.Now())
}

// NewAt returns a new ULID for a specific instant, useful for tests.
func NewAt(t time.Time) ULID {
	var buf [16]byte
	ms := uint64(t.UnixMilli())
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	if _, err := rand.Read(buf[6:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// panicking here matches the severity (we cannot produce a unique id).
		panic(fmt.Sprintf("idgen: reading randomness: %v", err))
	}
	return ULID(encode(buf))
}

func encode(data [16]byte) string {
	var sb strings.Builder
	sb.Grow(26)

	// Timestamp: 48 bits -> 10 base32 chars.
	ts := uint64(data[0])<<40 | uint64(data[1])<<32 | uint64(data[2])<<24 |
		uint64(data[3])<<16 | uint64(data[4])<<8 | uint64(data[5])
	for i := 9; i >= 0; i-- {
		sb.WriteByte(crockford[(ts>>(uint(i)*5))&0x1F])
	}

	// Randomness: 80 bits -> 16 base32 chars, processed 5 bytes (40 bits) at a time.
	for chunk := 0; chunk < 2; chunk++ {
		b := data[6+chunk*5 : 6+chunk*5+5]
		v := uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
		for i := 7; i >= 0; i-- {
			sb.WriteByte(crockford[(v>>(uint(i)*5))&0x1F])
		}
	}
	return sb.String()
}

func (u ULID) String() string { return string(u) }
