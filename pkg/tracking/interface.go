package tracking

import (
	"context"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/outage"
	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// Buttons is the movement key state.
type Buttons struct {
	W, A, S, D bool
	Shift      bool
}

// Moving reports whether any direction key is held.
func (b Buttons) Moving() bool {
	return b.W || b.A || b.S || b.D
}

// InputState is everything the classifier looks at.
type InputState struct {
	Buttons Buttons
	Engaged bool // pointer lock active
	Idle    bool // set by an external idle detector
	Loading bool // scene still loading
}

// InputProvider supplies the current button and engagement state.
type InputProvider interface {
	InputState() InputState
}

// TransformSnapshot is the player and camera pose at one instant.
type TransformSnapshot struct {
	Player path.Transform
	Camera *path.Transform // nil when the host has no separate camera
	POV    path.POV
}

// TransformProvider supplies the current pose. ok is false until the host
// has a valid transform.
type TransformProvider interface {
	Transform() (snap TransformSnapshot, ok bool)
}

// Transport sends a message to the collector. Send must not block; replies
// arrive later on the event bus.
type Transport interface {
	Send(msg *protocol.Message) error
}

// OutageReporter escalates a failed end-of-path report.
type OutageReporter interface {
	ReportOutage(ctx context.Context, report outage.Report) error
}

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time
