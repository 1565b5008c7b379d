// Package protocol defines the WebSocket message types exchanged between a
// path tracker and the collector.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Tracker → Collector messages
	TypePathStart       MessageType = "path_start"        // Open a path for this session
	TypePathSegmentsAdd MessageType = "path_segments_add" // Full buffer snapshot
	TypePathEnd         MessageType = "path_end"          // Final report

	// Collector → Tracker messages
	TypePathStarted       MessageType = "path_started"        // Path id assigned
	TypePathSegmentsAdded MessageType = "path_segments_added" // Durable segment count
	TypeError             MessageType = "error"               // Request rejected

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", m.Type, err)
	}
	return nil
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

// =============================================================================
// Tracker → Collector Message Types
// =============================================================================

// PathSegmentsAddData carries the tracker's whole buffer, newest segment first.
// Seq numbers the flush and is echoed in the acknowledgment.
type PathSegmentsAddData struct {
	PathID       string             `json:"pathId"`
	Seq          uint64             `json:"seq,omitempty"`
	PathSegments []path.PathSegment `json:"pathSegments"`
}

// SessionMetadata describes the session a path belongs to.
type SessionMetadata struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	DurationMs int64     `json:"durationMs"`
	Reason     string    `json:"reason,omitempty"` // "user", "disconnect", "shutdown"
	Points     int       `json:"points"`
}

// PathEndData is the final, fire-and-forget report for a path.
type PathEndData struct {
	PathID          string             `json:"pathId"`
	PathSegments    []path.PathSegment `json:"pathSegments"`
	SessionMetadata SessionMetadata    `json:"sessionMetadata"`
}

// =============================================================================
// Collector → Tracker Message Types
// =============================================================================

// PathStartedData assigns the path id for the session.
type PathStartedData struct {
	PathID string `json:"pathId"`
}

// PathSegmentsAddedData acknowledges a flush. Added is the number of oldest
// segments the collector has made durable. Seq is the flush being acked.
type PathSegmentsAddedData struct {
	PathID string `json:"pathId"`
	Seq    uint64 `json:"seq,omitempty"`
	Added  int    `json:"added"`
	Total  *int   `json:"total,omitempty"`
}

// ErrorData reports a rejected request.
type ErrorData struct {
	Request MessageType `json:"request,omitempty"`
	Message string      `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
