package tracking

import "github.com/teslashibe/go-pathsync/pkg/path"

// Classify derives the segment type for an input state. A non-nil override
// wins outright. Otherwise the first matching rule applies: walking engaged,
// running engaged, walking, running, idle, engaged but stationary, loading,
// and finally stationary disengaged.
//
// Walking means a direction key is held together with shift; running means
// a direction key is held without it.
func Classify(in InputState, override *path.SegmentType) path.SegmentType {
	if override != nil {
		return *override
	}

	moving := in.Buttons.Moving()
	walking := moving && in.Buttons.Shift
	running := moving && !in.Buttons.Shift

	switch {
	case walking && in.Engaged:
		return path.WalkingEngaged
	case running && in.Engaged:
		return path.RunningEngaged
	case walking:
		return path.WalkingDisengaged
	case running:
		return path.RunningDisengaged
	case in.Idle:
		return path.Idle
	case in.Engaged:
		return path.StationaryEngaged
	case in.Loading:
		return path.Loading
	default:
		return path.StationaryDisengaged
	}
}
