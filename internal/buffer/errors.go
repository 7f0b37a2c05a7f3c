package buffer

import "errors"

// Errors for the buffer package.
var (
	// ErrQueueFull is returned by Queue.Push when every slot is taken.
	ErrQueueFull = errors.New("buffer: queue full")

	// ErrQueueEmpty is returned by Queue.Peek and Queue.Pop on an empty queue.
	ErrQueueEmpty = errors.New("buffer: queue empty")

	// ErrOverflowEmpty is returned when popping an overflow store with no records.
	ErrOverflowEmpty = errors.New("buffer: overflow store empty")

	// ErrOverflowClosed is returned when using an overflow store that has no open file.
	ErrOverflowClosed = errors.New("buffer: overflow store not open")
)
