package filehash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timelock.mini/tlm/internal/types"
)

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if d.Hash.String() != want || d.Size != 11 {
		t.Fatalf("got %s (%d bytes)", d.Hash, d.Size)
	}
}

func TestEmptyAndMissingFiles(t *testing.T) {
	d, err := Reader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if d.Size != 0 || d.Hash.String() != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", d.Hash)
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatSize(0); got != "0 B" {
		t.Errorf("FormatSize(0) = %q", got)
	}
	if got := FormatSize(2048); got != "2.0 kB" {
		t.Errorf("FormatSize(2048) = %q", got)
	}
	if got := FormatAmount(types.NewAmount(1024000)); got != "1,024,000" {
		t.Errorf("FormatAmount = %q", got)
	}
	if got := FormatTime(0); got != "never" {
		t.Errorf("FormatTime(0) = %q", got)
	}
	past := types.TimestampFromTime(time.Now().Add(-3 * time.Hour))
	if got := FormatTime(past); got != "3 hours ago" {
		t.Errorf("FormatTime = %q", got)
	}
}
