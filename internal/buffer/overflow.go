package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

// readChunk is the number of bytes read per attempt when locating the next
// line. Records are short (name <= 15 bytes plus two integers).
const readChunk = 128

// OverflowStore is a disk-backed FIFO of samples kept in a single CSV file.
//
// Records are appended at the end of the file and consumed from a read
// cursor that only moves forward. The cursor is rewound only by Reset,
// which recreates the file and abandons anything still on disk.
//
// OverflowStore is not safe for concurrent use; only the producer
// goroutine touches it.
type OverflowStore struct {
	path       string
	syncWrites bool

	file     *os.File
	cursor   int64 // byte offset of the next unread record
	size     int   // unconsumed records
	fileSize int64
}

// NewOverflowStore returns a store for path. No file is created until the
// first Reset.
func NewOverflowStore(path string, syncWrites bool) *OverflowStore {
	return &OverflowStore{path: path, syncWrites: syncWrites}
}

// Path returns the file the store writes to.
func (o *OverflowStore) Path() string { return o.path }

// Size returns the number of records pushed and not yet popped.
func (o *OverflowStore) Size() int { return o.size }

// Bytes returns the current file size, header included.
func (o *OverflowStore) Bytes() int64 { return o.fileSize }

// Reset recreates the file with only the header line, moving the cursor
// past it and setting the size to zero. Previous content is abandoned.
//
// When newPath is non-empty the store switches to that file.
func (o *OverflowStore) Reset(newPath string) error {
	if newPath != "" {
		o.path = newPath
	}
	if o.file != nil {
		_ = o.file.Close()
		o.file = nil
	}
	o.cursor, o.size, o.fileSize = 0, 0, 0

	if dir := filepath.Dir(o.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: creating directory: %w", telemetry.ErrStorageIO, err)
		}
	}

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", telemetry.ErrStorageIO, o.path, err)
	}
	header := telemetry.CSVHeader + "\n"
	if _, err := f.WriteString(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: writing header: %w", telemetry.ErrStorageIO, err)
	}

	o.file = f
	o.cursor = int64(len(header))
	o.fileSize = int64(len(header))
	return nil
}

// Push appends s as one line. The size grows only when the write succeeds.
func (o *OverflowStore) Push(s telemetry.Sample) error {
	if o.file == nil {
		return fmt.Errorf("%w: %w", telemetry.ErrStorageIO, ErrOverflowClosed)
	}
	line := telemetry.EncodeLine(s) + "\n"
	n, err := o.file.WriteString(line)
	o.fileSize += int64(n)
	if err != nil {
		return fmt.Errorf("%w: append: %w", telemetry.ErrStorageIO, err)
	}
	if o.syncWrites {
		if err := o.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %w", telemetry.ErrStorageIO, err)
		}
	}
	o.size++
	return nil
}

// Peek returns the record at the cursor without consuming it.
func (o *OverflowStore) Peek() (telemetry.Sample, error) {
	return o.Pop(false)
}

// Pop returns the record at the cursor. When destructive is true the
// cursor advances past the line and the size drops by one.
//
// A line that cannot be decoded is consumed anyway when destructive, so a
// corrupt record cannot wedge the store, and a wrapped ErrStorageIO is
// returned.
func (o *OverflowStore) Pop(destructive bool) (telemetry.Sample, error) {
	if o.size == 0 {
		return telemetry.Sample{}, ErrOverflowEmpty
	}
	if o.file == nil {
		return telemetry.Sample{}, fmt.Errorf("%w: %w", telemetry.ErrStorageIO, ErrOverflowClosed)
	}

	line, next, err := o.readLine(o.cursor)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("%w: reading at offset %d: %w", telemetry.ErrStorageIO, o.cursor, err)
	}

	s, decodeErr := telemetry.DecodeLine(line)
	if destructive {
		o.cursor = next
		o.size--
	}
	if decodeErr != nil {
		return telemetry.Sample{}, fmt.Errorf("%w: %w", telemetry.ErrStorageIO, decodeErr)
	}
	return s, nil
}

// readLine reads the line starting at off and returns it with the offset
// of the following line.
func (o *OverflowStore) readLine(off int64) (string, int64, error) {
	var line []byte
	buf := make([]byte, readChunk)
	pos := off
	for {
		n, err := o.file.ReadAt(buf, pos)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			line = append(line, buf[:i]...)
			return string(line), pos + int64(i) + 1, nil
		}
		line = append(line, buf[:n]...)
		pos += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(line) == 0 {
					return "", pos, io.ErrUnexpectedEOF
				}
				// Last line without a trailing newline.
				return string(line), pos, nil
			}
			return "", pos, err
		}
	}
}

// Close releases the file handle. The file itself is left on disk.
func (o *OverflowStore) Close() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
