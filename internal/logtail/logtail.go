// Package logtail follows an append-only game log file, surviving rotation
// and truncation by the game server.
package logtail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// SourceError is fatal: the log stream is unusable and the daemon must not
// silently stop watching it.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("log source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Line is one complete log line, or a rotation marker.
type Line struct {
	Text string

	// Rotated is set on the marker emitted after the tailer re-opened the
	// file because it shrank or was replaced. No Text accompanies it.
	Rotated bool
}

// Tailer reads complete lines appended to a file and delivers them over a
// channel. Partial lines are buffered until a terminator is seen.
type Tailer struct {
	path      string
	readDelay time.Duration
	maxErrors int
	fromStart bool

	lines chan Line

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial strings.Builder
}

type Option func(*Tailer)

// WithReadDelay sets the idle poll interval.
func WithReadDelay(d time.Duration) Option {
	return func(t *Tailer) { t.readDelay = d }
}

// WithMaxErrors sets how many consecutive read failures are tolerated
// before Run fails with a SourceError.
func WithMaxErrors(n int) Option {
	return func(t *Tailer) { t.maxErrors = n }
}

// WithReplayFromStart makes the tailer read the existing file contents
// instead of seeking to the end on first open.
func WithReplayFromStart() Option {
	return func(t *Tailer) { t.fromStart = true }
}

func New(path string, opts ...Option) *Tailer {
	t := &Tailer{
		path:      path,
		readDelay: 250 * time.Millisecond,
		maxErrors: 10,
		lines:     make(chan Line, 256),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Lines returns the channel on which complete lines are delivered. It is
// closed when Run returns.
func (t *Tailer) Lines() <-chan Line { return t.lines }

// Run tails the file until ctx is cancelled or too many consecutive read
// errors occur. Rotation and truncation are handled by re-opening at the
// beginning and emitting a rotation marker, not by failing.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.lines)
	defer t.closeFile()

	if err := t.open(t.fromStart); err != nil {
		return &SourceError{Path: t.path, Err: err}
	}

	failures := 0
	for {
		n, err := t.readAvailable(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			log.Printf("logtail: read error (%d/%d): %v", failures, t.maxErrors, err)
			if failures >= t.maxErrors {
				return &SourceError{Path: t.path, Err: err}
			}
		} else {
			failures = 0
		}

		if n == 0 {
			rotated, rerr := t.checkRotation()
			if rerr != nil {
				failures++
				if failures >= t.maxErrors {
					return &SourceError{Path: t.path, Err: rerr}
				}
			} else if rotated {
				select {
				case t.lines <- Line{Rotated: true}:
				case <-ctx.Done():
					return nil
				}
			}
		}

		delay := t.readDelay
		if err != nil {
			// bounded backoff on read errors
			delay = t.readDelay * time.Duration(failures+1)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// readAvailable drains all complete lines currently in the file and reports
// how many were delivered.
func (t *Tailer) readAvailable(ctx context.Context) (int, error) {
	delivered := 0
	for {
		chunk, err := t.reader.ReadString('\n')
		if chunk != "" {
			t.offset += int64(len(chunk))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// keep any partial tail buffered for the next pass
				t.partial.WriteString(chunk)
				return delivered, nil
			}
			return delivered, err
		}
		line := t.partial.String() + strings.TrimRight(chunk, "\r\n")
		t.partial.Reset()
		select {
		case t.lines <- Line{Text: line}:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

// checkRotation compares the current read offset against the file on disk.
// A smaller file, or a different file at the same path, means the log was
// rotated or emptied; re-open at the beginning so nothing new is missed.
func (t *Tailer) checkRotation() (bool, error) {
	onDisk, err := os.Stat(t.path)
	if err != nil {
		return false, err
	}
	cur, err := t.file.Stat()
	if err != nil {
		return false, err
	}
	if onDisk.Size() >= t.offset && os.SameFile(onDisk, cur) {
		return false, nil
	}
	log.Printf("logtail: %s rotated or truncated (offset %d, size %d), re-opening",
		t.path, t.offset, onDisk.Size())
	t.closeFile()
	t.partial.Reset()
	if err := t.open(true); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tailer) open(fromStart bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	var offset int64
	if !fromStart {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return err
		}
	}
	t.file = f
	t.offset = offset
	t.reader = bufio.NewReader(f)
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
