package tracking

import "github.com/teslashibe/go-pathsync/pkg/path"

// SegmentRequest asks the tracker to reclassify on its next update. A nil
// Override classifies the current input; otherwise the given type is forced.
// Publish it on eventbus.TopicSegmentRequest or pass it to RequestSegment.
type SegmentRequest struct {
	Override *path.SegmentType
}

// SegmentEvent is published on eventbus.TopicSegmentOpened when a request
// changes the front segment.
type SegmentEvent struct {
	Decision Decision
	From     path.SegmentType
	To       path.SegmentType
	Segments int
}

// FlushEvent is published on eventbus.TopicSegmentsFlushed.
type FlushEvent struct {
	PathID   string
	Segments int
	Points   int
	Reason   string // "interval", "segments", "points"
}

// TrimEvent is published on eventbus.TopicSegmentsTrimmed.
type TrimEvent struct {
	PathID    string
	Added     int
	Removed   int
	Remaining int
}

// EndEvent is published on eventbus.TopicSessionEnded.
type EndEvent struct {
	PathID   string
	Segments int
	Points   int
	Err      error
}

// TransportErrorEvent is published on eventbus.TopicTransportError.
type TransportErrorEvent struct {
	Op  string // "path_start", "path_segments_add", "path_end"
	Err error
}

type outbound struct {
	topic   string
	payload any
}
