// Package disk implements the append-only line sink for normalized events
// and raw decoder dumps.
package disk

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

// Sink appends newline-delimited records to one file. Later poll cycles'
// records land strictly after earlier ones; nothing is ever rewritten.
type Sink struct {
	fs   afero.Fs
	path string
}

// NewSink builds a sink over the given filesystem. Tests pass a memory fs.
func NewSink(fs afero.Fs, path string) *Sink {
	return &Sink{fs: fs, path: path}
}

// Path returns the sink file path.
func (s *Sink) Path() string { return s.path }

// AppendLines appends the records in order, one per line.
func (s *Sink) AppendLines(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	file, err := s.fs.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open sink %s: %w", s.path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := writer.WriteString(line); err != nil {
			return fmt.Errorf("write sink %s: %w", s.path, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write sink %s: %w", s.path, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush sink %s: %w", s.path, err)
	}
	return nil
}

// AppendEvents renders each event as one line record and appends them.
// An event that fails to serialize is dropped; serialization of a decoded
// event only fails on exotic value types and must not sink the batch.
func (s *Sink) AppendEvents(events []event.Event) (int, error) {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		line, err := ev.Line()
		if err != nil {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.AppendLines(lines); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// ReadLines returns the sink contents line by line. A missing file reads as
// empty: an analysis that produced no events has nothing to report, which is
// not a failure.
func (s *Sink) ReadLines() ([]string, error) {
	file, err := s.fs.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open sink %s: %w", s.path, err)
	}
	defer file.Close()

	out := []string{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sink %s: %w", s.path, err)
	}
	return out, nil
}

// DumpFilename builds the full-mode artifact name {slot}_{timestamp}.{ext}.
func DumpFilename(slotName, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", slotName, now.Format("20060102_150405"), ext)
}

// ValidateDir reports whether the configured disk target exists and is a
// directory. The failure is meant to surface as a result string, so callers
// get a message rather than an aborted session.
func ValidateDir(fs afero.Fs, dir string) error {
	if dir == "" {
		return fmt.Errorf("disk path is empty")
	}
	info, err := fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("disk path %s does not exist", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("disk path %s is not a directory", dir)
	}
	return nil
}
