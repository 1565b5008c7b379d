// Package path defines the path data model shared by the tracker and the
// collector: points, typed segments and their wire encoding.
package path

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SegmentType classifies a run of points. The ordinal order matters: a
// request for a higher ordinal than the current segment is an upgrade.
type SegmentType int

const (
	Loading SegmentType = iota
	Idle
	StationaryDisengaged
	StationaryEngaged
	RunningDisengaged
	WalkingDisengaged
	RunningEngaged
	WalkingEngaged
)

var segmentTypeNames = [...]string{
	Loading:              "LOADING",
	Idle:                 "IDLE",
	StationaryDisengaged: "STATIONARY_DISENGAGED",
	StationaryEngaged:    "STATIONARY_ENGAGED",
	RunningDisengaged:    "RUNNING_DISENGAGED",
	WalkingDisengaged:    "WALKING_DISENGAGED",
	RunningEngaged:       "RUNNING_ENGAGED",
	WalkingEngaged:       "WALKING_ENGAGED",
}

// String returns the wire name of the type.
func (t SegmentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("SegmentType(%d)", int(t))
	}
	return segmentTypeNames[t]
}

// Valid reports whether t is one of the declared types.
func (t SegmentType) Valid() bool {
	return t >= Loading && t <= WalkingEngaged
}

// IsMoving reports whether t describes the user moving.
func (t SegmentType) IsMoving() bool {
	return t >= RunningDisengaged
}

// ParseSegmentType returns the type for a wire name.
func ParseSegmentType(name string) (SegmentType, error) {
	for i, n := range segmentTypeNames {
		if n == name {
			return SegmentType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSegmentType, name)
}

// MarshalJSON encodes the type by name.
func (t SegmentType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegmentType, int(t))
	}
	return json.Marshal(segmentTypeNames[t])
}

// UnmarshalJSON decodes a type name.
func (t *SegmentType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("segment type: %w", err)
	}
	parsed, err := ParseSegmentType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// POV is the camera mode at sample time.
type POV int

const (
	POVUnset POV = 0
	POVThird POV = 1
	POVOrbit POV = 2
)

// Vec3 is a position or euler rotation.
type Vec3 struct {
	X, Y, Z float64
}

// Round returns v with every component rounded to two decimals.
func (v Vec3) Round() Vec3 {
	return Vec3{X: Round2(v.X), Y: Round2(v.Y), Z: Round2(v.Z)}
}

// Transform is a position plus rotation.
type Transform struct {
	Position Vec3
	Rotation Vec3
}

// Round returns t with every component rounded to two decimals.
func (t Transform) Round() Transform {
	return Transform{Position: t.Position.Round(), Rotation: t.Rotation.Round()}
}

// PathPoint is one sampled point. Player is always set by the sampler;
// Camera is nil when the host exposes no separate camera.
type PathPoint struct {
	Offset float64 // ms since session start
	Player *Transform
	POV    POV
	Camera *Transform
}

// Quantize returns a copy of p with every numeric field rounded to two
// decimals. Quantizing twice yields the same point.
func (p PathPoint) Quantize() PathPoint {
	out := PathPoint{Offset: Round2(p.Offset), POV: p.POV}
	if p.Player != nil {
		r := p.Player.Round()
		out.Player = &r
	}
	if p.Camera != nil {
		r := p.Camera.Round()
		out.Camera = &r
	}
	return out
}

// Round2 rounds v to two decimal places. Values that round to zero return
// positive zero.
func Round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

// PathSegment is a contiguous run of points sharing one type.
type PathSegment struct {
	Type SegmentType `json:"type"`
	Path []PathPoint `json:"path"`

	// StartedAt is local bookkeeping for debounce; it never goes on the wire.
	StartedAt time.Time `json:"-"`
}

// Len returns the number of points.
func (s *PathSegment) Len() int {
	return len(s.Path)
}

// Last returns the newest point of the segment.
func (s *PathSegment) Last() (PathPoint, bool) {
	if len(s.Path) == 0 {
		return PathPoint{}, false
	}
	return s.Path[len(s.Path)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s PathSegment) Clone() PathSegment {
	out := PathSegment{Type: s.Type, StartedAt: s.StartedAt}
	if s.Path != nil {
		out.Path = make([]PathPoint, len(s.Path))
		copy(out.Path, s.Path)
	}
	return out
}

// CloneSegments deep copies a segment list.
func CloneSegments(segments []PathSegment) []PathSegment {
	out := make([]PathSegment, len(segments))
	for i, s := range segments {
		out[i] = s.Clone()
	}
	return out
}

// PointCount sums the points of all segments.
func PointCount(segments []PathSegment) int {
	n := 0
	for i := range segments {
		n += len(segments[i].Path)
	}
	return n
}
