package collector

import (
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seg builds a segment with n points starting at offset.
func seg(typ path.SegmentType, offset float64, n int) path.PathSegment {
	s := path.PathSegment{Type: typ}
	for i := 0; i < n; i++ {
		player := path.Transform{Position: path.Vec3{X: float64(i), Z: 1}}
		s.Path = append(s.Path, path.PathPoint{
			Offset: offset + float64(i)*1000,
			Player: &player,
			POV:    path.POVThird,
		})
	}
	return s
}

func fixedClock() func() time.Time {
	return func() time.Time { return t0 }
}
