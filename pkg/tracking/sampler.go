package tracking

import (
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

// Sampler turns the provider's current pose into a quantized PathPoint.
type Sampler struct {
	transforms TransformProvider
	now        Clock
	start      time.Time
}

// NewSampler creates a sampler measuring offsets from start.
func NewSampler(transforms TransformProvider, now Clock, start time.Time) *Sampler {
	if now == nil {
		now = time.Now
	}
	return &Sampler{transforms: transforms, now: now, start: start}
}

// Sample reads the provider and returns a point rounded to two decimals.
// The offset is 0 for the first point and milliseconds since start
// otherwise. ok is false when the provider has no valid transform yet; the
// caller simply skips the tick.
func (s *Sampler) Sample(isFirst bool) (p path.PathPoint, ok bool) {
	if s.transforms == nil {
		return path.PathPoint{}, false
	}
	snap, ok := s.transforms.Transform()
	if !ok {
		return path.PathPoint{}, false
	}

	offset := 0.0
	if !isFirst {
		offset = float64(s.now().Sub(s.start).Milliseconds())
	}

	player := snap.Player
	p = path.PathPoint{
		Offset: offset,
		Player: &player,
		POV:    snap.POV,
	}
	if snap.Camera != nil {
		camera := *snap.Camera
		p.Camera = &camera
	}
	return p.Quantize(), true
}

// sameSpot reports whether two points differ only in offset.
func sameSpot(a, b path.PathPoint) bool {
	return a.POV == b.POV && equalTransform(a.Player, b.Player) && equalTransform(a.Camera, b.Camera)
}

func equalTransform(a, b *path.Transform) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
