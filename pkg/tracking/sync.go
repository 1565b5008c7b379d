package tracking

import (
	"time"

	"github.com/teslashibe/go-pathsync/pkg/eventbus"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// errorLogInterval throttles repeated transport error logs.
const errorLogInterval = 5 * time.Second

// syncState is the flush/ack bookkeeping. pathID is set once by the first
// path_started reply and never changes afterwards.
type syncState struct {
	pathID        string
	flushSeq      uint64
	updateCounter time.Duration
	addingPaths   bool
	flushedAt     time.Time
	retryAt       time.Time
	startSentAt   time.Time
	lastErrorTime time.Time
}

// flushReason returns why a flush is due, or "" when none is.
func (t *Tracker) flushReason(now time.Time) string {
	if t.sync.addingPaths || t.sync.pathID == "" || now.Before(t.sync.retryAt) {
		return ""
	}
	switch {
	case t.buffer.Len() >= t.cfg.MaxSegments:
		return "segments"
	case t.buffer.MaxSegmentLen() >= t.cfg.MaxSegmentPoints:
		return "points"
	case t.sync.updateCounter >= t.cfg.FlushInterval:
		return "interval"
	}
	return ""
}

func (t *Tracker) maybeFlush(now time.Time) {
	if reason := t.flushReason(now); reason != "" {
		t.flush(now, reason)
	}
}

// flush sends the whole buffer and holds the lock until the ack, a send
// failure or the ack timeout. Every flush gets a new sequence number.
func (t *Tracker) flush(now time.Time, reason string) {
	snap := t.buffer.Snapshot()
	t.sync.flushSeq++
	msg, err := protocol.NewPathSegmentsAddMessage(t.sync.pathID, t.sync.flushSeq, snap)
	if err != nil {
		t.flushFailed(now, err)
		return
	}

	t.sync.addingPaths = true
	t.sync.flushedAt = now
	if err := t.transport.Send(msg); err != nil {
		t.flushFailed(now, err)
		return
	}

	t.stats.Flushes++
	points := t.buffer.Points()
	t.logger.Debug("segments flushed", "path_id", t.sync.pathID, "segments", len(snap), "points", points, "reason", reason)
	t.emit(eventbus.TopicSegmentsFlushed, FlushEvent{
		PathID:   t.sync.pathID,
		Segments: len(snap),
		Points:   points,
		Reason:   reason,
	})
}

func (t *Tracker) flushFailed(now time.Time, err error) {
	t.sync.addingPaths = false
	t.sync.updateCounter = 0
	t.sync.retryAt = now.Add(t.cfg.RetryInterval)
	t.stats.FlushErrors++
	t.transportError(now, string(protocol.TypePathSegmentsAdd), err)
}

func (t *Tracker) transportError(now time.Time, op string, err error) {
	if now.Sub(t.sync.lastErrorTime) >= errorLogInterval {
		t.logger.Warn("send failed", "op", op, "path_id", t.sync.pathID, "error", err)
		t.sync.lastErrorTime = now
	}
	t.emit(eventbus.TopicTransportError, TransportErrorEvent{Op: op, Err: err})
}

// handleAck trims the acknowledged tail and releases the lock. Acks for
// another path are ignored, and so is any ack that does not answer the
// outstanding flush: its count was taken against a buffer that may have
// changed since, so the segments are resent instead.
func (t *Tracker) handleAck(ack protocol.PathSegmentsAddedData) {
	if ack.PathID != "" && ack.PathID != t.sync.pathID {
		t.logger.Warn("ack for unknown path ignored", "path_id", ack.PathID, "current", t.sync.pathID)
		return
	}
	if !t.sync.addingPaths || (ack.Seq != 0 && ack.Seq != t.sync.flushSeq) {
		t.stats.StaleAcks++
		t.logger.Debug("stale ack ignored", "path_id", t.sync.pathID, "seq", ack.Seq, "outstanding", t.sync.flushSeq, "flushing", t.sync.addingPaths)
		return
	}

	removed := t.buffer.Trim(ack.Added)
	if removed < ack.Added {
		t.logger.Warn("ack exceeds buffer", "added", ack.Added, "removed", removed)
	}
	t.sync.addingPaths = false
	t.sync.updateCounter = 0
	t.stats.Acks++
	t.stats.Trimmed += removed

	t.emit(eventbus.TopicSegmentsTrimmed, TrimEvent{
		PathID:    t.sync.pathID,
		Added:     ack.Added,
		Removed:   removed,
		Remaining: t.buffer.Len(),
	})
}

// checkAckTimeout releases a lock whose ack never came.
func (t *Tracker) checkAckTimeout(now time.Time) {
	if !t.sync.addingPaths || now.Sub(t.sync.flushedAt) < t.cfg.AckTimeout {
		return
	}
	t.logger.Warn("flush ack timed out", "path_id", t.sync.pathID, "waited", now.Sub(t.sync.flushedAt))
	t.sync.addingPaths = false
	t.stats.AckTimeouts++
}

// sendStart requests a path id. It is resent every RetryInterval until one
// is assigned.
func (t *Tracker) sendStart(now time.Time) {
	t.sync.startSentAt = now
	msg, err := protocol.NewPathStartMessage()
	if err == nil {
		err = t.transport.Send(msg)
	}
	if err != nil {
		t.transportError(now, string(protocol.TypePathStart), err)
	}
}

func (t *Tracker) retryStart(now time.Time) {
	if now.Sub(t.sync.startSentAt) >= t.cfg.RetryInterval {
		t.sendStart(now)
	}
}

// handleStarted adopts the assigned path id and arms the update loop.
func (t *Tracker) handleStarted(started protocol.PathStartedData) {
	if t.sync.pathID != "" {
		if started.PathID != t.sync.pathID {
			t.logger.Warn("path id already assigned", "path_id", t.sync.pathID, "ignored", started.PathID)
		}
		return
	}
	t.sync.pathID = started.PathID
	t.sync.updateCounter = 0
	t.armed = true
	t.logger.Info("path started", "path_id", started.PathID, "session_id", t.sessionID)
}
