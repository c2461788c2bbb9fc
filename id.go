package chitragupta

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ShortID returns a deterministic 8-hex content key for s: a 32-bit FNV-1a
// over the normalized (trimmed, lower-cased) text, zero-padded to 8 digits.
// Two processes derive the same key from the same text, so short ids are
// usable for project hashes and duty ids.
func ShortID(s string) string {
	return fmt.Sprintf("%08x", fnv1a(strings.ToLower(strings.TrimSpace(s))))
}

// fnv1a computes the 32-bit FNV-1a hash of s.
func fnv1a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// NowUnixMilli returns the current time as Unix milliseconds.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
