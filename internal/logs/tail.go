package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultPoll = 250 * time.Millisecond

// TailOptions controls which lines Tail emits.
type TailOptions struct {
	// Lines is how many trailing lines to emit before following. Zero starts
	// at the end of the file.
	Lines int
	// Follow keeps polling for appended lines until ctx is done.
	Follow bool
	// Poll is the follow interval. Zero uses 250ms.
	Poll time.Duration
	// Match drops lines that do not contain the substring.
	Match string
}

// Tail emits the last lines of the daemon log at path, then optionally
// follows appended lines. A missing file emits nothing unless following, in
// which case Tail waits for it to appear.
func Tail(ctx context.Context, path string, opts TailOptions, emit func(string)) error {
	if emit == nil {
		return errors.New("tail: emit callback is required")
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	filter := func(line string) {
		if opts.Match == "" || strings.Contains(line, opts.Match) {
			emit(line)
		}
	}

	offset, err := emitLast(path, opts.Lines, opts.Match, filter)
	if err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		next, err := emitFrom(path, offset, filter)
		if err != nil {
			return err
		}
		offset = next
	}
}

// emitLast emits up to limit trailing matching lines and returns the end offset.
func emitLast(path string, limit int, match string, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return info.Size(), nil
	}

	ring := make([]string, 0, limit)
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read log file: %w", err)
	}
	for _, line := range ring {
		emit(line)
	}
	return file.Seek(0, io.SeekCurrent)
}

// emitFrom emits complete lines after offset. A truncated or rotated file is
// read from the start.
func emitFrom(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial trailing line stays unread until its newline lands.
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		emit(strings.TrimRight(line, "\r\n"))
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
