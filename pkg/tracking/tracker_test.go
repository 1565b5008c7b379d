package tracking

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-pathsync/internal/log"
	"github.com/teslashibe/go-pathsync/pkg/eventbus"
	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

type harness struct {
	tr         *Tracker
	bus        *eventbus.Bus
	clock      *manualClock
	transport  *fakeTransport
	transforms *fakeTransforms
	input      *fakeInput
	reporter   *fakeReporter
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		bus:        eventbus.New(log.Discard()),
		clock:      newManualClock(),
		transport:  &fakeTransport{},
		transforms: newFakeTransforms(1, 0, 1),
		input:      &fakeInput{},
		reporter:   &fakeReporter{},
	}
	tr, err := New(cfg, h.bus, h.input, h.transforms, h.transport,
		WithClock(h.clock.Now),
		WithLogger(log.Discard()),
		WithOutageReporter(h.reporter),
		WithSessionID("session-1"),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.tr = tr
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (h *harness) arm(pathID string) {
	h.bus.Publish(eventbus.TopicPathStarted, protocol.PathStartedData{PathID: pathID})
	h.tr.Update(0)
}

func (h *harness) step(d time.Duration) {
	h.clock.Advance(d)
	h.tr.Update(d)
}

func (h *harness) ack(pathID string, added int) {
	h.bus.Publish(eventbus.TopicSegmentsAdded, protocol.PathSegmentsAddedData{PathID: pathID, Added: added})
	h.tr.Update(0)
}

func (h *harness) ackSeq(pathID string, seq uint64, added int) {
	h.bus.Publish(eventbus.TopicSegmentsAdded, protocol.PathSegmentsAddedData{PathID: pathID, Seq: seq, Added: added})
	h.tr.Update(0)
}

func (h *harness) lastFlush(t *testing.T) *protocol.PathSegmentsAddData {
	t.Helper()
	msg := h.transport.Last(protocol.TypePathSegmentsAdd)
	if msg == nil {
		t.Fatal("no path_segments_add sent")
	}
	data, err := msg.GetPathSegmentsAddData()
	if err != nil {
		t.Fatalf("GetPathSegmentsAddData() error = %v", err)
	}
	return data
}

// quietConfig turns off sample ticks so a test drives the buffer with
// explicit requests only.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleInterval = time.Hour
	return cfg
}

func TestNewValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegments = 0
	if _, err := New(cfg, eventbus.New(nil), nil, newFakeTransforms(0, 0, 0), &fakeTransport{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(DefaultConfig(), nil, nil, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() without deps error = %v, want ErrInvalidConfig", err)
	}
}

func TestStartWalkScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.input.Set(InputState{Buttons: Buttons{W: true, Shift: true}, Engaged: true})
	h.start(t)

	h.clock.Advance(6000 * time.Millisecond)
	h.tr.RequestSegment(nil)
	h.tr.Update(6000 * time.Millisecond)

	snap := h.tr.Snapshot()
	if got, want := segmentTypes(snap), []path.SegmentType{path.WalkingEngaged, path.Loading}; !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	if len(snap[0].Path) != 1 || len(snap[1].Path) != 1 {
		t.Fatalf("points = %d/%d, want 1/1", len(snap[0].Path), len(snap[1].Path))
	}

	first := snap[1].Path[0]
	if first.Offset != 0 || first.Player.Position != (path.Vec3{X: 1, Y: 0, Z: 1}) {
		t.Errorf("first point = offset %v pos %+v", first.Offset, first.Player.Position)
	}
	if snap[0].Path[0].Offset != 6000 {
		t.Errorf("walking point offset = %v, want 6000", snap[0].Path[0].Offset)
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t)
	if err := h.tr.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestPathStartRetriedUntilArmed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t)

	if n := h.transport.Count(protocol.TypePathStart); n != 1 {
		t.Fatalf("path_start sent %d times, want 1", n)
	}

	h.step(4 * time.Second)
	if n := h.transport.Count(protocol.TypePathStart); n != 1 {
		t.Errorf("path_start resent too early: %d", n)
	}
	h.step(time.Second)
	if n := h.transport.Count(protocol.TypePathStart); n != 2 {
		t.Errorf("path_start sent %d times, want 2", n)
	}

	h.arm("path-1")
	h.step(10 * time.Second)
	if n := h.transport.Count(protocol.TypePathStart); n != 2 {
		t.Errorf("path_start sent after arming: %d", n)
	}

	st := h.tr.Status()
	if !st.Armed || st.PathID != "path-1" {
		t.Errorf("status = %+v", st)
	}
}

func TestPathIDIsImmutable(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t)
	h.arm("path-1")
	h.arm("path-2")

	if id := h.tr.Status().PathID; id != "path-1" {
		t.Errorf("PathID = %q, want path-1", id)
	}
}

func TestNoSamplingBeforeArmed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t)

	for i := 0; i < 10; i++ {
		h.step(time.Second)
	}
	st := h.tr.Status()
	if st.Points != 0 || st.Stats.Samples != 0 {
		t.Errorf("sampled before arming: %+v", st)
	}
	if h.transport.Count(protocol.TypePathSegmentsAdd) != 0 {
		t.Error("flushed before arming")
	}
}

func TestSampleTickStoresPoints(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.input.Set(InputState{Loading: true})
	h.start(t)
	h.arm("path-1")

	for i := 0; i < 4; i++ {
		h.transforms.Move(0.5)
		h.step(time.Second)
	}

	snap := h.tr.Snapshot()
	if len(snap) != 1 || snap[0].Type != path.Loading {
		t.Fatalf("types = %v", segmentTypes(snap))
	}
	if len(snap[0].Path) != 4 {
		t.Fatalf("points = %d, want 4", len(snap[0].Path))
	}
	if snap[0].Path[0].Offset != 0 {
		t.Errorf("first offset = %v, want 0", snap[0].Path[0].Offset)
	}
	for i := 1; i < len(snap[0].Path); i++ {
		if snap[0].Path[i].Offset < snap[0].Path[i-1].Offset {
			t.Errorf("offsets not monotonic: %v", snap[0].Path)
		}
	}
}

func TestSampleTickClassifies(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.input.Set(InputState{Loading: true})
	h.start(t)
	h.arm("path-1")

	for i := 0; i < 6; i++ {
		h.step(time.Second)
	}
	h.input.Set(InputState{Buttons: Buttons{D: true}, Engaged: true})
	h.step(time.Second)

	snap := h.tr.Snapshot()
	if got, want := segmentTypes(snap), []path.SegmentType{path.RunningEngaged, path.Loading}; !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	if len(snap[0].Path) != 1 {
		t.Errorf("new segment points = %d, want 1 (no double sample)", len(snap[0].Path))
	}
}

func TestFlushOnInterval(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.input.Set(InputState{Loading: true})
	h.start(t)
	h.arm("path-1")

	for i := 0; i < 29; i++ {
		h.step(time.Second)
	}
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 0 {
		t.Fatalf("flushed after 29s: %d", n)
	}
	h.step(time.Second)
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Fatalf("flushes after 30s = %d, want 1", n)
	}

	data := h.lastFlush(t)
	if data.PathID != "path-1" {
		t.Errorf("flush path id = %q", data.PathID)
	}
	if got := path.PointCount(data.PathSegments); got != 30 {
		t.Errorf("flushed points = %d, want 30", got)
	}

	// Locked until the ack.
	for i := 0; i < 10; i++ {
		h.step(time.Second)
	}
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Errorf("flushed while locked: %d", n)
	}
}

func TestFlushOnSegmentCount(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 3
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.Idle))
	h.tr.Update(0)
	if h.transport.Count(protocol.TypePathSegmentsAdd) != 0 {
		t.Fatal("flushed with 2 segments")
	}

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.StationaryDisengaged))
	h.tr.Update(0)

	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Fatalf("flushes = %d, want 1 on the tick that reached 3 segments", n)
	}
	if got := len(h.lastFlush(t).PathSegments); got != 3 {
		t.Errorf("flushed segments = %d, want 3", got)
	}
	if !h.tr.Status().Flushing {
		t.Error("lock not held after flush")
	}
}

func TestFlushOnSegmentPoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegmentPoints = 5
	h := newHarness(t, cfg)
	h.input.Set(InputState{Loading: true})
	h.start(t)
	h.arm("path-1")

	for i := 0; i < 4; i++ {
		h.step(time.Second)
	}
	if h.transport.Count(protocol.TypePathSegmentsAdd) != 0 {
		t.Fatal("flushed with 4 points")
	}
	h.step(time.Second)

	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Fatalf("flushes = %d, want 1", n)
	}
	segs := h.lastFlush(t).PathSegments
	if len(segs) != 2 || len(segs[1].Path) != 5 || len(segs[0].Path) != 1 {
		t.Errorf("flushed = %d segments, sizes %v", len(segs), []int{len(segs[0].Path), len(segs[len(segs)-1].Path)})
	}
}

func TestAckTrimsOldestSegments(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 4
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	for _, typ := range []path.SegmentType{path.Idle, path.RunningDisengaged, path.WalkingEngaged} {
		h.clock.Advance(6 * time.Second)
		h.tr.RequestSegment(typePtr(typ))
		h.tr.Update(0)
	}
	before := h.tr.Snapshot()
	if len(before) != 4 || !h.tr.Status().Flushing {
		t.Fatalf("setup: %v flushing=%v", segmentTypes(before), h.tr.Status().Flushing)
	}

	var trimmed []TrimEvent
	h.bus.Subscribe(eventbus.TopicSegmentsTrimmed, func(p any) {
		trimmed = append(trimmed, p.(TrimEvent))
	})

	h.ack("path-1", 3)

	after := h.tr.Snapshot()
	if !reflect.DeepEqual(after, before[:1]) {
		t.Errorf("after ack = %v, want only the open segment", segmentTypes(after))
	}
	st := h.tr.Status()
	if st.Flushing {
		t.Error("lock held after ack")
	}
	if len(trimmed) != 1 || trimmed[0].Removed != 3 || trimmed[0].Remaining != 1 {
		t.Errorf("trim events = %+v", trimmed)
	}
}

func TestAckPartialKeepsNewer(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 4
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	for _, typ := range []path.SegmentType{path.Idle, path.RunningDisengaged, path.WalkingEngaged} {
		h.clock.Advance(6 * time.Second)
		h.tr.RequestSegment(typePtr(typ))
		h.tr.Update(0)
	}
	before := h.tr.Snapshot()

	h.ack("path-1", 1)

	after := h.tr.Snapshot()
	if !reflect.DeepEqual(after, before[:3]) {
		t.Errorf("after ack = %v, want the three newest untouched", segmentTypes(after))
	}
}

func TestAckExceedingBufferKeepsOpenSegment(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 2
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.Idle))
	h.tr.Update(0)

	h.ack("path-1", 50)

	snap := h.tr.Snapshot()
	if len(snap) != 1 || snap[0].Type != path.Idle {
		t.Errorf("after oversized ack = %v", segmentTypes(snap))
	}
}

func TestAckForOtherPathIgnored(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 2
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.Idle))
	h.tr.Update(0)

	h.ack("path-9", 1)

	st := h.tr.Status()
	if st.Segments != 2 || !st.Flushing {
		t.Errorf("foreign ack changed state: %+v", st)
	}
}

func TestSendFailureReleasesLock(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 2
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	var failures []TransportErrorEvent
	h.bus.Subscribe(eventbus.TopicTransportError, func(p any) {
		failures = append(failures, p.(TransportErrorEvent))
	})

	h.transport.SetErr(errors.New("not connected"))
	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.Idle))
	h.tr.Update(0)

	st := h.tr.Status()
	if st.Flushing {
		t.Fatal("lock held after failed send")
	}
	if st.Stats.FlushErrors != 1 || len(failures) != 1 || failures[0].Op != string(protocol.TypePathSegmentsAdd) {
		t.Errorf("stats = %+v, failures = %+v", st.Stats, failures)
	}

	// Held off for the retry interval.
	h.transport.SetErr(nil)
	h.step(4 * time.Second)
	if h.transport.Count(protocol.TypePathSegmentsAdd) != 0 {
		t.Fatal("retried before the retry interval")
	}
	h.step(time.Second)
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Errorf("flushes after retry interval = %d, want 1", n)
	}
}

func TestAckTimeoutReleasesLock(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 2
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.Idle))
	h.tr.Update(0)
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 1 {
		t.Fatalf("flushes = %d, want 1", n)
	}

	h.step(14 * time.Second)
	if !h.tr.Status().Flushing {
		t.Fatal("lock released before the ack timeout")
	}

	// The segment threshold still holds, so the release flushes again.
	h.step(time.Second)
	st := h.tr.Status()
	if st.Stats.AckTimeouts != 1 {
		t.Errorf("AckTimeouts = %d, want 1", st.Stats.AckTimeouts)
	}
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 2 {
		t.Errorf("flushes = %d, want 2", n)
	}
}

// timedOutFlush builds [RUNNING_DISENGAGED, IDLE, LOADING], lets the first
// flush time out and returns once the second flush of the same buffer is out.
func timedOutFlush(t *testing.T) *harness {
	t.Helper()
	cfg := quietConfig()
	cfg.MaxSegments = 3
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	for _, typ := range []path.SegmentType{path.Idle, path.RunningDisengaged} {
		h.clock.Advance(6 * time.Second)
		h.tr.RequestSegment(typePtr(typ))
		h.tr.Update(0)
	}
	if seq := h.lastFlush(t).Seq; seq != 1 {
		t.Fatalf("first flush seq = %d, want 1", seq)
	}

	h.step(15 * time.Second)
	if n := h.transport.Count(protocol.TypePathSegmentsAdd); n != 2 {
		t.Fatalf("flushes = %d, want 2", n)
	}
	if seq := h.lastFlush(t).Seq; seq != 2 {
		t.Fatalf("second flush seq = %d, want 2", seq)
	}
	return h
}

func TestLateAckForEarlierFlushIgnored(t *testing.T) {
	h := timedOutFlush(t)

	h.ackSeq("path-1", 1, 2)
	st := h.tr.Status()
	if st.Segments != 3 || !st.Flushing || st.Stats.StaleAcks != 1 {
		t.Fatalf("ack for flush 1 applied: %+v", st)
	}

	h.ackSeq("path-1", 2, 2)
	want := []path.SegmentType{path.RunningDisengaged}
	if got := segmentTypes(h.tr.Snapshot()); !reflect.DeepEqual(got, want) {
		t.Fatalf("after ack 2 = %v, want %v", got, want)
	}

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.WalkingEngaged))
	h.tr.Update(0)

	// A duplicate of the last ack must not trim the segment that was only
	// ever sent as the open one.
	h.ackSeq("path-1", 2, 2)
	want = []path.SegmentType{path.WalkingEngaged, path.RunningDisengaged}
	if got := segmentTypes(h.tr.Snapshot()); !reflect.DeepEqual(got, want) {
		t.Errorf("after duplicate ack = %v, want %v", got, want)
	}
	if st := h.tr.Status(); st.Stats.Acks != 1 || st.Stats.StaleAcks != 2 {
		t.Errorf("stats = %+v", st.Stats)
	}
}

func TestAckWithoutSeqOnlyWhileFlushing(t *testing.T) {
	h := timedOutFlush(t)

	h.ack("path-1", 2)
	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.WalkingEngaged))
	h.tr.Update(0)

	h.ack("path-1", 2)
	want := []path.SegmentType{path.WalkingEngaged, path.RunningDisengaged}
	if got := segmentTypes(h.tr.Snapshot()); !reflect.DeepEqual(got, want) {
		t.Errorf("after second ack = %v, want %v", got, want)
	}
}

func TestBusSegmentRequest(t *testing.T) {
	h := newHarness(t, quietConfig())
	h.start(t)
	h.arm("path-1")

	var opened []SegmentEvent
	h.bus.Subscribe(eventbus.TopicSegmentOpened, func(p any) {
		opened = append(opened, p.(SegmentEvent))
	})

	h.clock.Advance(6 * time.Second)
	h.bus.Publish(eventbus.TopicSegmentRequest, SegmentRequest{Override: typePtr(path.RunningEngaged)})
	h.tr.Update(0)

	if len(opened) != 1 || opened[0].From != path.Loading || opened[0].To != path.RunningEngaged || opened[0].Decision != DecisionOpened {
		t.Errorf("opened = %+v", opened)
	}
}

func TestHandlersMayCallBack(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSegments = 2
	h := newHarness(t, cfg)
	h.start(t)
	h.arm("path-1")

	var status Status
	h.bus.Subscribe(eventbus.TopicSegmentsFlushed, func(any) {
		status = h.tr.Status()
	})

	done := make(chan struct{})
	go func() {
		h.clock.Advance(6 * time.Second)
		h.tr.RequestSegment(typePtr(path.Idle))
		h.tr.Update(0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update deadlocked publishing to a handler that reads status")
	}
	if !status.Flushing {
		t.Error("handler saw no flush in progress")
	}
}

func TestEndSendsFullBuffer(t *testing.T) {
	h := newHarness(t, quietConfig())
	h.start(t)
	h.arm("path-1")

	h.clock.Advance(6 * time.Second)
	h.tr.RequestSegment(typePtr(path.WalkingEngaged))
	h.tr.Update(0)

	var ended []EndEvent
	h.bus.Subscribe(eventbus.TopicSessionEnded, func(p any) {
		ended = append(ended, p.(EndEvent))
	})

	h.clock.Advance(4 * time.Second)
	if err := h.tr.End(context.Background(), protocol.SessionMetadata{UserID: "u-1", Reason: "user"}); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	msg := h.transport.Last(protocol.TypePathEnd)
	if msg == nil {
		t.Fatal("no path_end sent")
	}
	data, err := msg.GetPathEndData()
	if err != nil {
		t.Fatalf("GetPathEndData() error = %v", err)
	}
	if data.PathID != "path-1" || len(data.PathSegments) != 2 {
		t.Errorf("path_end = %s with %d segments", data.PathID, len(data.PathSegments))
	}
	meta := data.SessionMetadata
	if meta.SessionID != "session-1" || meta.UserID != "u-1" || meta.DurationMs != 10000 || meta.Points != 2 {
		t.Errorf("metadata = %+v", meta)
	}
	if len(ended) != 1 || ended[0].Err != nil {
		t.Errorf("ended events = %+v", ended)
	}

	select {
	case <-h.tr.Done():
	default:
		t.Error("Done() not closed")
	}
	if err := h.tr.End(context.Background(), protocol.SessionMetadata{}); !errors.Is(err, ErrEnded) {
		t.Errorf("second End() error = %v, want ErrEnded", err)
	}
	if len(h.reporter.Reports()) != 0 {
		t.Error("outage reported on success")
	}

	// Detached: no more ticks, no more bus input.
	before := h.tr.Snapshot()
	h.bus.Publish(eventbus.TopicSegmentRequest, SegmentRequest{Override: typePtr(path.Idle)})
	h.step(time.Minute)
	if !reflect.DeepEqual(h.tr.Snapshot(), before) {
		t.Error("buffer changed after End")
	}
}

func TestEndFailureReportsOutageOnce(t *testing.T) {
	h := newHarness(t, quietConfig())
	h.start(t)
	h.arm("path-1")

	h.transport.SetErr(errors.New("socket closed"))
	err := h.tr.End(context.Background(), protocol.SessionMetadata{})
	if err == nil {
		t.Fatal("End() error = nil, want send failure")
	}

	reports := h.reporter.Reports()
	if len(reports) != 1 {
		t.Fatalf("outage reports = %d, want 1", len(reports))
	}
	if reports[0].PathID != "path-1" || reports[0].SessionID != "session-1" || reports[0].Error != "socket closed" {
		t.Errorf("report = %+v", reports[0])
	}
}

func TestEndBeforeStart(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.tr.End(context.Background(), protocol.SessionMetadata{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("End() error = %v, want ErrNotStarted", err)
	}
}

func TestInboxOverflowDrops(t *testing.T) {
	cfg := quietConfig()
	cfg.InboxSize = 2
	h := newHarness(t, cfg)
	h.start(t)

	for i := 0; i < 5; i++ {
		h.tr.RequestSegment(nil)
	}
	if n := h.tr.Status().Stats.DroppedInbound; n != 3 {
		t.Errorf("DroppedInbound = %d, want 3", n)
	}
}

func TestRunStopsOnEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	bus := eventbus.New(log.Discard())
	tr, err := New(cfg, bus, &fakeInput{}, newFakeTransforms(0, 0, 0), &fakeTransport{}, WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Run(context.Background())
	}()

	bus.Publish(eventbus.TopicPathStarted, protocol.PathStartedData{PathID: "p"})
	time.Sleep(30 * time.Millisecond)
	if err := tr.End(context.Background(), protocol.SessionMetadata{}); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after End")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.tr.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
