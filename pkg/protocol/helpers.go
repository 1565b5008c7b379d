package protocol

import (
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewPathStartMessage creates a path start request. The session identity
// travels with the connection, so the message has no data.
func NewPathStartMessage() (*Message, error) {
	return NewMessage(TypePathStart, nil)
}

// NewPathSegmentsAddMessage creates a flush message carrying segments.
func NewPathSegmentsAddMessage(pathID string, seq uint64, segments []path.PathSegment) (*Message, error) {
	return NewMessage(TypePathSegmentsAdd, PathSegmentsAddData{
		PathID:       pathID,
		Seq:          seq,
		PathSegments: nonNil(segments),
	})
}

// NewPathEndMessage creates the end-of-path report.
func NewPathEndMessage(pathID string, segments []path.PathSegment, meta SessionMetadata) (*Message, error) {
	return NewMessage(TypePathEnd, PathEndData{
		PathID:          pathID,
		PathSegments:    nonNil(segments),
		SessionMetadata: meta,
	})
}

// NewPathStartedMessage creates the reply assigning a path id.
func NewPathStartedMessage(pathID string) (*Message, error) {
	return NewMessage(TypePathStarted, PathStartedData{PathID: pathID})
}

// NewPathSegmentsAddedMessage creates the acknowledgment for flush seq.
func NewPathSegmentsAddedMessage(pathID string, seq uint64, added, total int) (*Message, error) {
	return NewMessage(TypePathSegmentsAdded, PathSegmentsAddedData{
		PathID: pathID,
		Seq:    seq,
		Added:  added,
		Total:  &total,
	})
}

// NewErrorMessage creates an error reply for a rejected request.
func NewErrorMessage(request MessageType, msg string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Request: request, Message: msg})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

func nonNil(segments []path.PathSegment) []path.PathSegment {
	if segments == nil {
		return []path.PathSegment{}
	}
	return segments
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetPathSegmentsAddData extracts a flush payload from a message
func (m *Message) GetPathSegmentsAddData() (*PathSegmentsAddData, error) {
	var data PathSegmentsAddData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPathEndData extracts an end-of-path report from a message
func (m *Message) GetPathEndData() (*PathEndData, error) {
	var data PathEndData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPathStartedData extracts the path id assignment from a message
func (m *Message) GetPathStartedData() (*PathStartedData, error) {
	var data PathStartedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.PathID == "" {
		return nil, ErrMissingPathID
	}
	return &data, nil
}

// GetPathSegmentsAddedData extracts a flush acknowledgment from a message
func (m *Message) GetPathSegmentsAddedData() (*PathSegmentsAddedData, error) {
	var data PathSegmentsAddedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Added < 0 {
		return nil, ErrNegativeAdded
	}
	return &data, nil
}

// GetErrorData extracts an error reply from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
