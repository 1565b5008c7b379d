package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingType is returned when a message has no type field.
	ErrMissingType = errors.New("protocol: message type missing")

	// ErrMissingPathID is returned when a path_started reply has no path id.
	ErrMissingPathID = errors.New("protocol: path id missing")

	// ErrNegativeAdded is returned when an acknowledgment reports a negative count.
	ErrNegativeAdded = errors.New("protocol: negative added count")
)

// RemoteError is an error reply from the collector.
type RemoteError struct {
	Request MessageType
	Message string
}

func (e *RemoteError) Error() string {
	if e.Request == "" {
		return fmt.Sprintf("collector error: %s", e.Message)
	}
	return fmt.Sprintf("collector rejected %s: %s", e.Request, e.Message)
}

// AsRemoteError converts an error reply into a RemoteError.
func (d ErrorData) AsRemoteError() *RemoteError {
	return &RemoteError{Request: d.Request, Message: d.Message}
}
