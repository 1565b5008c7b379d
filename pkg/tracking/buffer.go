package tracking

import (
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

// Decision is the outcome of a segment request.
type Decision int

const (
	DecisionDebounced Decision = iota // front segment too young, request dropped
	DecisionNoop                      // front already has the requested type
	DecisionPromoted                  // front type rewritten in place
	DecisionMerged                    // front folded back into the previous segment
	DecisionOpened                    // new front segment created
)

var decisionNames = [...]string{"debounced", "noop", "promoted", "merged", "opened"}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return "unknown"
	}
	return decisionNames[d]
}

// SampleFunc takes a fresh sample. ok is false when no transform is available.
type SampleFunc func(isFirst bool) (p path.PathPoint, ok bool)

// SegmentBuffer is the newest-first list of segments. Index 0 is the only
// open segment. It is not safe for concurrent use; the Tracker serializes
// access.
type SegmentBuffer struct {
	cfg      Config
	segments []path.PathSegment

	seeded     bool
	last       path.PathPoint // most recent sample, stored or not
	hasLast    bool
	lastStored bool
}

// NewSegmentBuffer returns a buffer holding one empty LOADING placeholder.
func NewSegmentBuffer(cfg Config, now time.Time) *SegmentBuffer {
	return &SegmentBuffer{
		cfg: cfg,
		segments: []path.PathSegment{{
			Type:      path.Loading,
			Path:      []path.PathPoint{},
			StartedAt: now,
		}},
	}
}

// Len returns the number of segments.
func (b *SegmentBuffer) Len() int {
	return len(b.segments)
}

// Front returns the open segment.
func (b *SegmentBuffer) Front() *path.PathSegment {
	return &b.segments[0]
}

// Seeded reports whether the first point has been stored.
func (b *SegmentBuffer) Seeded() bool {
	return b.seeded
}

// Points returns the total number of stored points.
func (b *SegmentBuffer) Points() int {
	return path.PointCount(b.segments)
}

// MaxSegmentLen returns the point count of the largest segment.
func (b *SegmentBuffer) MaxSegmentLen() int {
	n := 0
	for i := range b.segments {
		if l := len(b.segments[i].Path); l > n {
			n = l
		}
	}
	return n
}

// Snapshot returns a deep copy of the buffer, newest first.
func (b *SegmentBuffer) Snapshot() []path.PathSegment {
	return path.CloneSegments(b.segments)
}

// Seed stores the first point on the placeholder segment. It is a no-op
// once the buffer is seeded.
func (b *SegmentBuffer) Seed(p path.PathPoint) {
	if b.seeded {
		return
	}
	b.seeded = true
	front := b.Front()
	front.Path = append(front.Path, p)
	b.remember(p, true)
}

// Observe records a sample on the open segment and returns whether it was
// stored. When SkipDuplicatePoints is set, a sample that matches the last
// stored point apart from its offset is remembered but not stored. A front
// that reaches MaxSegmentPoints is sealed and continued by a fresh segment
// of the same type.
func (b *SegmentBuffer) Observe(p path.PathPoint) bool {
	if !b.seeded {
		b.Seed(p)
		return true
	}
	front := b.Front()
	if b.cfg.SkipDuplicatePoints {
		if prev, ok := front.Last(); ok && sameSpot(prev, p) {
			b.remember(p, false)
			return false
		}
	}
	front.Path = append(front.Path, p)
	b.remember(p, true)
	b.split()
	return true
}

// split seals a full front segment. The continuation keeps the segment type
// and start time and begins with a copy of the sealed segment's last point.
func (b *SegmentBuffer) split() bool {
	front := b.Front()
	if len(front.Path) < b.cfg.MaxSegmentPoints {
		return false
	}
	last, _ := front.Last()
	b.prepend(path.PathSegment{
		Type:      front.Type,
		Path:      []path.PathPoint{last},
		StartedAt: front.StartedAt,
	})
	return true
}

// Request evaluates a new-segment request for typ at now. flushing is true
// while a flush is awaiting its acknowledgment; merge-back is suppressed
// then because the segment it would grow may already be durable on the
// collector and about to be trimmed.
func (b *SegmentBuffer) Request(typ path.SegmentType, now time.Time, sample SampleFunc, flushing bool) Decision {
	if !b.seeded {
		if p, ok := sample(true); ok {
			b.Seed(p)
		}
	}

	front := b.Front()
	debounced := now.Sub(front.StartedAt)
	upgrade := typ > front.Type

	if debounced < b.cfg.DebounceWindow && !upgrade {
		return DecisionDebounced
	}

	if debounced < b.cfg.UpgradeWindow && typ.IsMoving() && !front.Type.IsMoving() &&
		len(b.segments) > 1 && b.segments[1].Type.IsMoving() {
		front.Type = typ
		return DecisionPromoted
	}

	if typ == front.Type {
		return DecisionNoop
	}

	if b.canMerge(typ, flushing) {
		b.merge(now)
		return DecisionMerged
	}

	if b.hasLast && !b.lastStored {
		front.Path = append(front.Path, b.last)
		b.lastStored = true
	}
	next := path.PathSegment{Type: typ, Path: []path.PathPoint{}, StartedAt: now}
	if p, ok := sample(false); ok {
		next.Path = append(next.Path, p)
		b.remember(p, true)
	}
	b.prepend(next)
	return DecisionOpened
}

func (b *SegmentBuffer) canMerge(typ path.SegmentType, flushing bool) bool {
	if flushing || len(b.segments) < 2 || b.segments[1].Type != typ {
		return false
	}
	return len(b.segments[0].Path)+len(b.segments[1].Path) < b.cfg.MaxSegmentPoints
}

// merge folds the front segment into its predecessor, which becomes the
// open segment again.
func (b *SegmentBuffer) merge(now time.Time) {
	front := b.segments[0]
	prev := &b.segments[1]
	prev.Path = append(prev.Path, front.Path...)
	prev.StartedAt = now
	b.segments = b.segments[1:]
}

// Trim removes up to n of the oldest segments. The open segment is never
// removed. It returns the number actually removed.
func (b *SegmentBuffer) Trim(n int) int {
	if n <= 0 {
		return 0
	}
	if limit := len(b.segments) - 1; n > limit {
		n = limit
	}
	keep := len(b.segments) - n
	for i := keep; i < len(b.segments); i++ {
		b.segments[i] = path.PathSegment{}
	}
	b.segments = b.segments[:keep]
	return n
}

func (b *SegmentBuffer) prepend(s path.PathSegment) {
	b.segments = append(b.segments, path.PathSegment{})
	copy(b.segments[1:], b.segments)
	b.segments[0] = s
}

func (b *SegmentBuffer) remember(p path.PathPoint, stored bool) {
	b.last = p
	b.hasLast = true
	b.lastStored = stored
}
