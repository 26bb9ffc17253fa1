package testsupport

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a payload of exactly size bytes at path and returns its
// file:// reference. The content cycles through 0..250 so truncated or
// reordered copies do not compare equal. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w := bufio.NewWriterSize(f, 64<<10)
	for i := int64(0); i < size; i++ {
		if err := w.WriteByte(byte(i % 251)); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("abs %s: %v", path, err)
	}
	return "file://" + abs
}
