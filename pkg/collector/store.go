// Package collector is the server side of path sync. It accepts tracker
// connections, persists closed segments and acknowledges them.
package collector

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

var (
	// ErrPathNotFound is returned for an unknown path id.
	ErrPathNotFound = errors.New("collector: path not found")

	// ErrPathEnded is returned when appending to a path that was ended.
	ErrPathEnded = errors.New("collector: path already ended")
)

// PathRecord summarizes a stored path.
type PathRecord struct {
	ID        string                    `json:"id"`
	SessionID string                    `json:"sessionId"`
	StartedAt time.Time                 `json:"startedAt"`
	EndedAt   *time.Time                `json:"endedAt,omitempty"`
	Segments  int                       `json:"segments"`
	Points    int                       `json:"points"`
	Metadata  *protocol.SessionMetadata `json:"sessionMetadata,omitempty"`
}

// Ended reports whether the path was closed by path_end.
func (r PathRecord) Ended() bool {
	return r.EndedAt != nil
}

// Path is a stored path with its segments, oldest first.
type Path struct {
	PathRecord
	PathSegments []path.PathSegment `json:"pathSegments"`
}

// Store persists paths. Segments are always passed oldest first.
type Store interface {
	// StartPath creates a path for the session.
	StartPath(ctx context.Context, sessionID string, at time.Time) (PathRecord, error)

	// AppendSegments stores closed segments and returns the path's new
	// segment total.
	AppendSegments(ctx context.Context, pathID string, segments []path.PathSegment) (int, error)

	// EndPath stores the final segments, records the metadata and closes
	// the path. It returns the segment total.
	EndPath(ctx context.Context, pathID string, segments []path.PathSegment, meta protocol.SessionMetadata, at time.Time) (int, error)

	// Path returns one path with all of its segments.
	Path(ctx context.Context, pathID string) (*Path, error)

	// Paths lists the most recently started paths.
	Paths(ctx context.Context, limit int) ([]PathRecord, error)
}

// chronological reverses the wire order (newest first) into storage order.
func chronological(segments []path.PathSegment) []path.PathSegment {
	out := make([]path.PathSegment, len(segments))
	for i, seg := range segments {
		out[len(segments)-1-i] = seg
	}
	return out
}
