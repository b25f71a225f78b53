// Package types defines the core domain values for timelock mini (tlm).
// It contains the content Hash, the millisecond Timestamp, the caller
// AccountID and the aggregate Stats snapshot shared across the ledger,
// storage and API layers.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Version is the current version of TLM
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// HashSize is the byte length of a content digest.
const HashSize = 32

// Hash is a fixed-length content digest identifying a file. It is supplied
// by callers; the ledger never computes it.
type Hash [HashSize]byte

// ParseHash decodes a 64 character hex digest. A leading "0x" is accepted.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	return h, nil
}

// HashFromBytes copies a 32 byte digest into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Timestamp is a platform clock reading in milliseconds since the Unix epoch.
type Timestamp uint64

// TimestampFromTime converts a wall-clock time, clamping pre-epoch values to 0.
func TimestampFromTime(t time.Time) Timestamp {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return Timestamp(ms)
}

// Time converts the timestamp back to UTC wall-clock time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// AccountID is the hex-encoded public key of a caller. It is the canonical
// identity used for ownership checks and event attribution.
type AccountID string

// Short returns an abbreviated form for log lines.
func (a AccountID) Short() string {
	if len(a) <= 12 {
		return string(a)
	}
	return string(a[:6]) + "…" + string(a[len(a)-4:])
}

// Stats is a consistent snapshot of the ledger's aggregate counters.
type Stats struct {
	TotalHashes uint32    `json:"total_hashes"`
	TotalVolume Amount    `json:"total_volume"`
	LastUpdated Timestamp `json:"last_updated"`
}
