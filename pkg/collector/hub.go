package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// storeTimeout bounds each store call made for an incoming message.
const storeTimeout = 10 * time.Second

// SessionConnection is one connected tracker.
type SessionConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes a message to the tracker.
func (s *SessionConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// SegmentUpdate describes a batch of segments that became durable. It is
// what path watchers receive.
type SegmentUpdate struct {
	PathID      string             `json:"pathId"`
	SessionID   string             `json:"sessionId"`
	Added       []path.PathSegment `json:"added"`
	OpenSegment *path.PathSegment  `json:"openSegment,omitempty"`
	Total       int                `json:"total"`
	Ended       bool               `json:"ended"`
}

// Hub accepts tracker connections and applies the sync protocol.
type Hub struct {
	store   Store
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*SessionConnection
	// open path per session
	paths map[string]string
	// newest, still growing segment per path
	open map[string]path.PathSegment

	startMu sync.Mutex

	// Callbacks
	onUpdate func(update SegmentUpdate)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	segmentsStored   atomic.Uint64
	pointsStored     atomic.Uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics records prometheus metrics.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithHubClock replaces time.Now.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates a hub backed by store.
func NewHub(store Store, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:    store,
		logger:   logger.With("component", "collector"),
		now:      time.Now,
		sessions: make(map[string]*SessionConnection),
		paths:    make(map[string]string),
		open:     make(map[string]path.PathSegment),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics, _ = NewMetrics(nil)
	}
	return h
}

// OnUpdate sets the callback invoked after segments are stored.
func (h *Hub) OnUpdate(callback func(update SegmentUpdate)) {
	h.mu.Lock()
	h.onUpdate = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the websocket routes on a Fiber app.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session/:id", websocket.New(h.handleSession))
}

func (h *Hub) handleSession(c *websocket.Conn) {
	sessionID := c.Params("id")
	now := h.now()
	sess := &SessionConnection{
		ID:        sessionID,
		Conn:      c,
		Connected: now,
		LastSeen:  now,
	}

	h.mu.Lock()
	if prev, ok := h.sessions[sessionID]; ok {
		// a reconnect replaces the stale socket
		prev.Conn.Close()
	}
	h.sessions[sessionID] = sess
	count := len(h.sessions)
	h.mu.Unlock()
	h.metrics.connections.Inc()
	h.logger.Info("tracker connected", "session", sessionID, "sessions", count)

	defer func() {
		h.mu.Lock()
		if h.sessions[sessionID] == sess {
			delete(h.sessions, sessionID)
		}
		count := len(h.sessions)
		h.mu.Unlock()
		h.metrics.connections.Dec()
		h.logger.Info("tracker disconnected", "session", sessionID, "sessions", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read error", "session", sessionID, "error", err)
			}
			return
		}

		sess.mu.Lock()
		sess.LastSeen = h.now()
		sess.mu.Unlock()

		reply := h.handleMessage(context.Background(), sessionID, data)
		if reply == nil {
			continue
		}
		if err := sess.Send(reply); err != nil {
			h.logger.Warn("write error", "session", sessionID, "error", err)
			return
		}
		h.messagesSent.Add(1)
	}
}

// handleMessage applies one tracker message and returns the reply, if any.
func (h *Hub) handleMessage(ctx context.Context, sessionID string, data []byte) *protocol.Message {
	h.messagesReceived.Add(1)

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.metrics.messages.WithLabelValues("invalid").Inc()
		h.logger.Warn("invalid message", "session", sessionID, "error", err)
		return errorReply("", "invalid message: "+err.Error())
	}
	h.metrics.messages.WithLabelValues(string(msg.Type)).Inc()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	switch msg.Type {
	case protocol.TypePathStart:
		return h.handlePathStart(ctx, sessionID)

	case protocol.TypePathSegmentsAdd:
		add, err := msg.GetPathSegmentsAddData()
		if err != nil {
			return errorReply(msg.Type, err.Error())
		}
		return h.handleSegmentsAdd(ctx, sessionID, add)

	case protocol.TypePathEnd:
		end, err := msg.GetPathEndData()
		if err != nil {
			return errorReply(msg.Type, err.Error())
		}
		return h.handlePathEnd(ctx, sessionID, end)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil || ping == nil {
			ping = &protocol.PingData{Timestamp: msg.Timestamp}
		}
		pong, _ := protocol.NewPongMessage(ping.ID, ping.Timestamp, h.now().UnixMilli())
		return pong

	default:
		return errorReply(msg.Type, "unsupported message type")
	}
}

// handlePathStart creates a path for the session. A repeated path_start
// while the session's path is open returns the same id.
func (h *Hub) handlePathStart(ctx context.Context, sessionID string) *protocol.Message {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	h.mu.RLock()
	pathID, ok := h.paths[sessionID]
	h.mu.RUnlock()

	if !ok {
		rec, err := h.store.StartPath(ctx, sessionID, h.now())
		if err != nil {
			h.storeFailed(protocol.TypePathStart, sessionID, err)
			return errorReply(protocol.TypePathStart, "could not start path")
		}
		pathID = rec.ID
		h.mu.Lock()
		h.paths[sessionID] = pathID
		h.mu.Unlock()
		h.metrics.pathsStarted.Inc()
		h.logger.Info("path started", "session", sessionID, "path", pathID)
	}

	reply, _ := protocol.NewPathStartedMessage(pathID)
	return reply
}

// handleSegmentsAdd stores every segment but the newest, which is still
// open on the tracker, and acknowledges how many were stored.
func (h *Hub) handleSegmentsAdd(ctx context.Context, sessionID string, add *protocol.PathSegmentsAddData) *protocol.Message {
	if add.PathID == "" {
		return errorReply(protocol.TypePathSegmentsAdd, "missing pathId")
	}

	var (
		closed []path.PathSegment
		open   *path.PathSegment
	)
	if len(add.PathSegments) > 0 {
		newest := add.PathSegments[0]
		open = &newest
		closed = chronological(add.PathSegments[1:])
	}

	total, err := h.store.AppendSegments(ctx, add.PathID, closed)
	if err != nil {
		h.storeFailed(protocol.TypePathSegmentsAdd, sessionID, err)
		return errorReply(protocol.TypePathSegmentsAdd, storeMessage(err))
	}

	h.mu.Lock()
	if open != nil {
		h.open[add.PathID] = *open
	}
	h.mu.Unlock()

	h.recordStored(closed)
	h.notify(SegmentUpdate{
		PathID:      add.PathID,
		SessionID:   sessionID,
		Added:       closed,
		OpenSegment: open,
		Total:       total,
	})

	reply, _ := protocol.NewPathSegmentsAddedMessage(add.PathID, add.Seq, len(closed), total)
	return reply
}

// handlePathEnd stores the remaining segments and closes the path. A
// tracker that never got a path id sends an empty one; the session's
// path is used, or one is created.
func (h *Hub) handlePathEnd(ctx context.Context, sessionID string, end *protocol.PathEndData) *protocol.Message {
	pathID := end.PathID
	if pathID == "" {
		h.mu.RLock()
		pathID = h.paths[sessionID]
		h.mu.RUnlock()
	}
	if pathID == "" {
		startedAt := end.SessionMetadata.StartedAt
		if startedAt.IsZero() {
			startedAt = h.now()
		}
		rec, err := h.store.StartPath(ctx, sessionID, startedAt)
		if err != nil {
			h.storeFailed(protocol.TypePathEnd, sessionID, err)
			return errorReply(protocol.TypePathEnd, "could not start path")
		}
		pathID = rec.ID
		h.metrics.pathsStarted.Inc()
	}

	segments := chronological(end.PathSegments)
	total, err := h.store.EndPath(ctx, pathID, segments, end.SessionMetadata, h.now())
	if err != nil {
		h.storeFailed(protocol.TypePathEnd, sessionID, err)
		return errorReply(protocol.TypePathEnd, storeMessage(err))
	}

	h.mu.Lock()
	if h.paths[sessionID] == pathID {
		delete(h.paths, sessionID)
	}
	delete(h.open, pathID)
	h.mu.Unlock()

	h.metrics.pathsEnded.Inc()
	h.recordStored(segments)
	h.logger.Info("path ended", "session", sessionID, "path", pathID,
		"segments", total, "reason", end.SessionMetadata.Reason)
	h.notify(SegmentUpdate{
		PathID:    pathID,
		SessionID: sessionID,
		Added:     segments,
		Total:     total,
		Ended:     true,
	})
	return nil
}

func (h *Hub) recordStored(segments []path.PathSegment) {
	points := path.PointCount(segments)
	h.segmentsStored.Add(uint64(len(segments)))
	h.pointsStored.Add(uint64(points))
	h.metrics.pointsStored.Add(float64(points))
	for _, seg := range segments {
		h.metrics.segmentsAdded.WithLabelValues(seg.Type.String()).Inc()
	}
}

func (h *Hub) storeFailed(request protocol.MessageType, sessionID string, err error) {
	h.metrics.storeErrors.WithLabelValues(string(request)).Inc()
	h.logger.Error("store failed", "request", request, "session", sessionID, "error", err)
}

func (h *Hub) notify(update SegmentUpdate) {
	h.mu.RLock()
	cb := h.onUpdate
	h.mu.RUnlock()
	if cb != nil {
		cb(update)
	}
}

func storeMessage(err error) string {
	switch {
	case errors.Is(err, ErrPathNotFound):
		return "unknown path"
	case errors.Is(err, ErrPathEnded):
		return "path already ended"
	default:
		return "store unavailable"
	}
}

func errorReply(request protocol.MessageType, text string) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(request, text)
	return msg
}

// OpenSegment returns the provisional newest segment of a path.
func (h *Hub) OpenSegment(pathID string) (path.PathSegment, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seg, ok := h.open[pathID]
	return seg, ok
}

// SessionCount returns the number of connected trackers.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionInfo describes a connected tracker.
type SessionInfo struct {
	ID        string    `json:"id"`
	PathID    string    `json:"pathId,omitempty"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Sessions returns the connected trackers.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(h.sessions))
	for id, s := range h.sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:        id,
			PathID:    h.paths[id],
			Connected: s.Connected,
			LastSeen:  s.LastSeen,
		})
		s.mu.Unlock()
	}
	return infos
}

// Stats contains hub statistics
type Stats struct {
	Sessions         int    `json:"sessions"`
	OpenPaths        int    `json:"openPaths"`
	MessagesReceived uint64 `json:"messagesReceived"`
	MessagesSent     uint64 `json:"messagesSent"`
	SegmentsStored   uint64 `json:"segmentsStored"`
	PointsStored     uint64 `json:"pointsStored"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	sessions, open := len(h.sessions), len(h.paths)
	h.mu.RUnlock()

	return Stats{
		Sessions:         sessions,
		OpenPaths:        open,
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		SegmentsStored:   h.segmentsStored.Load(),
		PointsStored:     h.pointsStored.Load(),
	}
}
