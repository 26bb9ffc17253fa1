package fileutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ProgressFunc receives the number of bytes copied so far and the expected
// total (0 when unknown).
type ProgressFunc func(done, total int64)

const copyChunk = 1 << 20

// Copy streams src into dst in chunks, reporting progress after each chunk
// and stopping early when ctx is cancelled.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, report ProgressFunc) (int64, error) {
	buf := make([]byte, copyChunk)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if w != n {
				return written, io.ErrShortWrite
			}
			if report != nil {
				report(written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// CopyFile copies src to dst with default permissions (0o644).
func CopyFile(ctx context.Context, src, dst string, report ProgressFunc) (int64, error) {
	return CopyFileMode(ctx, src, dst, 0o644, report)
}

// CopyFileMode copies src to dst, setting the given file mode on dst. A
// partially written dst is removed on failure.
func CopyFileMode(ctx context.Context, src, dst string, mode os.FileMode, report ProgressFunc) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	var total int64
	if info, err := in.Stat(); err == nil {
		total = info.Size()
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	written, err := Copy(ctx, out, in, total, report)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return written, err
	}
	if total > 0 && written != total {
		_ = os.Remove(dst)
		return written, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", total, written)
	}
	return written, nil
}

// CopyFileAtomic copies src into a temporary file next to dst and renames it
// into place, so readers never observe a partial dst.
func CopyFileAtomic(ctx context.Context, src, dst string, report ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	written, err := CopyFile(ctx, src, tmpPath, report)
	if err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}
	return written, nil
}
