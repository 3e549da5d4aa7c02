package dispatch

import "errors"

var (
	// ErrQueueFull is returned by Submit when the queue has no space.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatch: dispatcher closed")

	// ErrInvalidCommand is returned by Submit for commands that can never execute.
	ErrInvalidCommand = errors.New("dispatch: invalid command")

	// ErrDriverPanic marks a driver call that panicked.
	ErrDriverPanic = errors.New("dispatch: driver panicked")
)
