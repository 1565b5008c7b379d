package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// MemoryStore keeps paths in process memory. It is used when no database
// is configured, and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	paths map[string]*Path
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{paths: make(map[string]*Path)}
}

func (s *MemoryStore) StartPath(_ context.Context, sessionID string, at time.Time) (PathRecord, error) {
	p := &Path{PathRecord: PathRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: at,
	}}

	s.mu.Lock()
	s.paths[p.ID] = p
	s.mu.Unlock()
	return p.PathRecord, nil
}

func (s *MemoryStore) AppendSegments(_ context.Context, pathID string, segments []path.PathSegment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.open(pathID)
	if err != nil {
		return 0, err
	}
	s.append(p, segments)
	return p.Segments, nil
}

func (s *MemoryStore) EndPath(_ context.Context, pathID string, segments []path.PathSegment, meta protocol.SessionMetadata, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.open(pathID)
	if err != nil {
		return 0, err
	}
	s.append(p, segments)
	p.EndedAt = &at
	p.Metadata = &meta
	return p.Segments, nil
}

func (s *MemoryStore) open(pathID string) (*Path, error) {
	p, ok := s.paths[pathID]
	if !ok {
		return nil, ErrPathNotFound
	}
	if p.Ended() {
		return nil, ErrPathEnded
	}
	return p, nil
}

func (s *MemoryStore) append(p *Path, segments []path.PathSegment) {
	p.PathSegments = append(p.PathSegments, path.CloneSegments(segments)...)
	p.Segments = len(p.PathSegments)
	p.Points += path.PointCount(segments)
}

func (s *MemoryStore) Path(_ context.Context, pathID string) (*Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.paths[pathID]
	if !ok {
		return nil, ErrPathNotFound
	}
	cp := *p
	cp.PathSegments = path.CloneSegments(p.PathSegments)
	return &cp, nil
}

func (s *MemoryStore) Paths(_ context.Context, limit int) ([]PathRecord, error) {
	s.mu.RLock()
	records := make([]PathRecord, 0, len(s.paths))
	for _, p := range s.paths {
		records = append(records, p.PathRecord)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
