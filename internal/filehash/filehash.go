// Package filehash computes the SHA-256 digest and size of local files
// without loading them into memory.
package filehash

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"timelock.mini/tlm/internal/types"
)

// Digest is the stamping input for one file.
type Digest struct {
	Hash types.Hash
	Size uint64
}

// File hashes the file at path.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	d, err := Reader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d.Hash[:], h.Sum(nil))
	d.Size = uint64(n)
	return d, nil
}

// FormatSize renders a byte count, e.g. "2.0 kB".
func FormatSize(n uint64) string {
	if n == 0 {
		return "0 B"
	}
	return humanize.Bytes(n)
}

// FormatTime renders a ledger timestamp relative to now, e.g. "3 hours ago".
func FormatTime(ts types.Timestamp) string {
	if ts == 0 {
		return "never"
	}
	return humanize.RelTime(ts.Time(), time.Now(), "ago", "from now")
}

// FormatAmount groups the digits of an amount, e.g. "1,024,000".
func FormatAmount(a types.Amount) string {
	return humanize.BigComma(a.Big())
}
