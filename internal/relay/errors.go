package relay

import "errors"

var (
	// ErrStopped is returned by commands sent after the hub loop has exited.
	ErrStopped = errors.New("relay.Hub: stopped")

	// ErrRunning is returned when Run is called a second time.
	ErrRunning = errors.New("relay.Hub: already running")
)
