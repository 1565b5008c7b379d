// Package tracking turns a live stream of input and transform samples into
// typed path segments and keeps them synchronized with a remote collector.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/eventbus"
	"github.com/teslashibe/go-pathsync/pkg/outage"
	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// Stats counts tracker activity since Start.
type Stats struct {
	Samples        int
	Requests       int
	Flushes        int
	FlushErrors    int
	Acks           int
	StaleAcks      int
	AckTimeouts    int
	Trimmed        int
	DroppedInbound int
}

// Status is a point-in-time view of the tracker.
type Status struct {
	PathID   string
	Armed    bool
	Flushing bool
	Ended    bool
	Segments int
	Points   int
	Front    path.SegmentType
	Stats    Stats
}

type inboundKind int

const (
	inboundStarted inboundKind = iota
	inboundAdded
	inboundRequest
)

type inbound struct {
	kind    inboundKind
	started protocol.PathStartedData
	added   protocol.PathSegmentsAddedData
	request SegmentRequest
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now Clock) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithOutageReporter sets where a failed end-of-path report is escalated.
func WithOutageReporter(r OutageReporter) Option {
	return func(t *Tracker) {
		if r != nil {
			t.reporter = r
		}
	}
}

// WithSessionID sets the session id used in metadata and outage reports.
func WithSessionID(id string) Option {
	return func(t *Tracker) {
		t.sessionID = id
	}
}

// Tracker owns one session's segment buffer and sync state. All mutation
// happens in Update; bus events are queued and applied on the next Update.
type Tracker struct {
	cfg        Config
	bus        *eventbus.Bus
	input      InputProvider
	transforms TransformProvider
	transport  Transport
	reporter   OutageReporter
	logger     *slog.Logger
	now        Clock
	sessionID  string

	inbox chan inbound
	done  chan struct{}

	mu            sync.Mutex
	started       bool
	armed         bool
	ended         bool
	startedAt     time.Time
	buffer        *SegmentBuffer
	sampler       *Sampler
	sync          syncState
	sampleCounter time.Duration
	stats         Stats
	unsubs        []func()
	outbox        []outbound
}

// New creates a tracker. input may be nil, in which case every sample
// classifies as stationary and disengaged.
func New(cfg Config, bus *eventbus.Bus, input InputProvider, transforms TransformProvider, transport Transport, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bus == nil || transforms == nil || transport == nil {
		return nil, fmt.Errorf("%w: bus, transforms and transport are required", ErrInvalidConfig)
	}

	t := &Tracker{
		cfg:        cfg,
		bus:        bus,
		input:      input,
		transforms: transforms,
		transport:  transport,
		reporter:   outage.NopReporter{},
		logger:     slog.Default(),
		now:        time.Now,
		inbox:      make(chan inbound, cfg.InboxSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracking")
	return t, nil
}

// Start creates the LOADING placeholder, subscribes to the bus and sends
// path_start. The buffer is seeded by the first successful sample.
func (t *Tracker) Start() error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return ErrEnded
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}

	now := t.now()
	t.started = true
	t.startedAt = now
	t.buffer = NewSegmentBuffer(t.cfg, now)
	t.sampler = NewSampler(t.transforms, t.now, now)
	t.unsubs = []func(){
		t.bus.Subscribe(eventbus.TopicPathStarted, t.onPathStarted),
		t.bus.Subscribe(eventbus.TopicSegmentsAdded, t.onSegmentsAdded),
		t.bus.Subscribe(eventbus.TopicSegmentRequest, t.onSegmentRequest),
	}
	t.sendStart(now)
	out := t.takeOutbox()
	t.mu.Unlock()

	t.publish(out)
	t.logger.Info("tracking started", "session_id", t.sessionID)
	return nil
}

// RequestSegment queues a reclassification for the next Update. A nil
// override classifies the current input.
func (t *Tracker) RequestSegment(override *path.SegmentType) {
	t.enqueue(inbound{kind: inboundRequest, request: SegmentRequest{Override: override}})
}

// Update advances the tracker by dt. It applies queued events, samples and
// classifies once per SampleInterval, and flushes when a threshold is
// crossed. Sampling and flushing wait for a path id.
func (t *Tracker) Update(dt time.Duration) {
	t.mu.Lock()
	if !t.started || t.ended {
		t.mu.Unlock()
		return
	}

	now := t.now()
	t.drainInbox(now)

	if !t.armed {
		t.retryStart(now)
	} else {
		t.sampleCounter += dt
		if t.sampleCounter >= t.cfg.SampleInterval {
			t.sampleCounter = 0
			t.sampleTick(now)
		}
		t.sync.updateCounter += dt
		t.checkAckTimeout(now)
		t.maybeFlush(now)
	}

	out := t.takeOutbox()
	t.mu.Unlock()

	t.publish(out)
}

// Run calls Update every TickInterval until ctx is done or End is called.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	last := t.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			now := t.now()
			t.Update(now.Sub(last))
			last = now
		}
	}
}

// End detaches the tracker and sends path_end with the whole buffer. Zero
// metadata fields are filled from the tracker. A failed send is reported
// once to the outage reporter and returned; it is never retried.
func (t *Tracker) End(ctx context.Context, meta protocol.SessionMetadata) error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return ErrEnded
	}
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.ended = true
	close(t.done)
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil

	now := t.now()
	// Apply anything already queued so a late ack still trims.
	t.drainInbox(now)

	if meta.SessionID == "" {
		meta.SessionID = t.sessionID
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = t.startedAt
	}
	if meta.EndedAt.IsZero() {
		meta.EndedAt = now
	}
	if meta.DurationMs == 0 {
		meta.DurationMs = meta.EndedAt.Sub(meta.StartedAt).Milliseconds()
	}
	meta.Points = t.buffer.Points()

	pathID := t.sync.pathID
	snap := t.buffer.Snapshot()
	msg, err := protocol.NewPathEndMessage(pathID, snap, meta)
	if err == nil {
		err = t.transport.Send(msg)
	}
	if err != nil {
		t.transportError(now, string(protocol.TypePathEnd), err)
	}
	t.emit(eventbus.TopicSessionEnded, EndEvent{
		PathID:   pathID,
		Segments: len(snap),
		Points:   meta.Points,
		Err:      err,
	})
	out := t.takeOutbox()
	t.mu.Unlock()

	t.publish(out)

	if err == nil {
		t.logger.Info("path ended", "path_id", pathID, "segments", len(snap), "points", meta.Points)
		return nil
	}

	if rerr := t.reporter.ReportOutage(ctx, outage.Report{
		SessionID: meta.SessionID,
		PathID:    pathID,
		Reason:    "path_end_failed",
		Error:     err.Error(),
		At:        now,
	}); rerr != nil {
		t.logger.Error("outage report failed", "path_id", pathID, "error", rerr)
	}
	return fmt.Errorf("tracking: send path_end: %w", err)
}

// Done is closed when the tracker ends.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Snapshot returns a deep copy of the buffer, newest segment first. It is
// nil before Start.
func (t *Tracker) Snapshot() []path.PathSegment {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buffer == nil {
		return nil
	}
	return t.buffer.Snapshot()
}

// Status returns the current state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		PathID:   t.sync.pathID,
		Armed:    t.armed,
		Flushing: t.sync.addingPaths,
		Ended:    t.ended,
		Stats:    t.stats,
	}
	if t.buffer != nil {
		st.Segments = t.buffer.Len()
		st.Points = t.buffer.Points()
		st.Front = t.buffer.Front().Type
	}
	return st
}

// sampleTick classifies the current input, requests a new segment when the
// type changed, and stores a sample unless the request already took one.
func (t *Tracker) sampleTick(now time.Time) {
	if typ := Classify(t.inputState(), nil); typ != t.buffer.Front().Type {
		if t.request(typ, now) == DecisionOpened {
			return
		}
	}

	first := !t.buffer.Seeded()
	p, ok := t.sampler.Sample(first)
	if !ok {
		return
	}
	t.stats.Samples++
	t.buffer.Observe(p)
}

func (t *Tracker) request(typ path.SegmentType, now time.Time) Decision {
	from := t.buffer.Front().Type
	d := t.buffer.Request(typ, now, t.sampler.Sample, t.sync.addingPaths)
	t.stats.Requests++

	switch d {
	case DecisionOpened, DecisionPromoted, DecisionMerged:
		t.logger.Debug("segment changed", "decision", d, "from", from, "to", typ, "segments", t.buffer.Len())
		t.emit(eventbus.TopicSegmentOpened, SegmentEvent{
			Decision: d,
			From:     from,
			To:       typ,
			Segments: t.buffer.Len(),
		})
	}
	return d
}

func (t *Tracker) inputState() InputState {
	if t.input == nil {
		return InputState{}
	}
	return t.input.InputState()
}

func (t *Tracker) drainInbox(now time.Time) {
	for {
		select {
		case ev := <-t.inbox:
			t.apply(ev, now)
		default:
			return
		}
	}
}

func (t *Tracker) apply(ev inbound, now time.Time) {
	switch ev.kind {
	case inboundStarted:
		t.handleStarted(ev.started)
	case inboundAdded:
		t.handleAck(ev.added)
	case inboundRequest:
		if t.ended {
			return
		}
		typ := Classify(t.inputState(), ev.request.Override)
		t.request(typ, now)
	}
}

func (t *Tracker) enqueue(ev inbound) {
	select {
	case t.inbox <- ev:
	default:
		t.mu.Lock()
		t.stats.DroppedInbound++
		t.mu.Unlock()
		t.logger.Warn("inbox full, event dropped", "kind", ev.kind)
	}
}

func (t *Tracker) onPathStarted(payload any) {
	switch v := payload.(type) {
	case protocol.PathStartedData:
		t.enqueue(inbound{kind: inboundStarted, started: v})
	case *protocol.PathStartedData:
		t.enqueue(inbound{kind: inboundStarted, started: *v})
	}
}

func (t *Tracker) onSegmentsAdded(payload any) {
	switch v := payload.(type) {
	case protocol.PathSegmentsAddedData:
		t.enqueue(inbound{kind: inboundAdded, added: v})
	case *protocol.PathSegmentsAddedData:
		t.enqueue(inbound{kind: inboundAdded, added: *v})
	}
}

func (t *Tracker) onSegmentRequest(payload any) {
	switch v := payload.(type) {
	case SegmentRequest:
		t.enqueue(inbound{kind: inboundRequest, request: v})
	case path.SegmentType:
		t.enqueue(inbound{kind: inboundRequest, request: SegmentRequest{Override: &v}})
	case nil:
		t.enqueue(inbound{kind: inboundRequest})
	}
}

// emit queues an event to publish once the lock is released, so handlers
// may call back into the tracker.
func (t *Tracker) emit(topic string, payload any) {
	t.outbox = append(t.outbox, outbound{topic: topic, payload: payload})
}

func (t *Tracker) takeOutbox() []outbound {
	out := t.outbox
	t.outbox = nil
	return out
}

func (t *Tracker) publish(out []outbound) {
	for _, ev := range out {
		t.bus.Publish(ev.topic, ev.payload)
	}
}
