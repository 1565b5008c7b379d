package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/outage"
	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: t0}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTransforms struct {
	mu   sync.Mutex
	snap TransformSnapshot
	ok   bool
}

func newFakeTransforms(x, y, z float64) *fakeTransforms {
	return &fakeTransforms{
		snap: TransformSnapshot{Player: path.Transform{Position: path.Vec3{X: x, Y: y, Z: z}}},
		ok:   true,
	}
}

func (f *fakeTransforms) Transform() (TransformSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.ok
}

func (f *fakeTransforms) Move(dx float64) {
	f.mu.Lock()
	f.snap.Player.Position.X += dx
	f.mu.Unlock()
}

type fakeInput struct {
	mu    sync.Mutex
	state InputState
}

func (f *fakeInput) InputState() InputState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeInput) Set(s InputState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []*protocol.Message
	err  error
}

func (f *fakeTransport) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) Count(typ protocol.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Last(typ protocol.MessageType) *protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == typ {
			return f.sent[i]
		}
	}
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []outage.Report
}

func (f *fakeReporter) ReportOutage(_ context.Context, r outage.Report) error {
	f.mu.Lock()
	f.reports = append(f.reports, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeReporter) Reports() []outage.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outage.Report(nil), f.reports...)
}

// pt returns a point at offset ms with the player at x.
func pt(offset, x float64) path.PathPoint {
	return path.PathPoint{
		Offset: offset,
		Player: &path.Transform{Position: path.Vec3{X: x}},
	}
}

// counterSampler hands out points with increasing x.
type counterSampler struct {
	x float64
}

func (c *counterSampler) Sample(isFirst bool) (path.PathPoint, bool) {
	c.x++
	if isFirst {
		return pt(0, c.x), true
	}
	return pt(c.x*1000, c.x), true
}

func typePtr(t path.SegmentType) *path.SegmentType {
	return &t
}

func segmentTypes(segs []path.PathSegment) []path.SegmentType {
	out := make([]path.SegmentType, len(segs))
	for i, s := range segs {
		out[i] = s.Type
	}
	return out
}
