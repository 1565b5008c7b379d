package tracking

import "errors"

var (
	// ErrInvalidConfig is returned by Config.Validate and New.
	ErrInvalidConfig = errors.New("tracking: invalid config")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("tracking: already started")

	// ErrNotStarted is returned by End before Start.
	ErrNotStarted = errors.New("tracking: not started")

	// ErrEnded is returned when a tracker is used after End.
	ErrEnded = errors.New("tracking: session ended")
)
