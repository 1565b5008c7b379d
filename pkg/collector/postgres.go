package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/teslashibe/go-pathsync/internal/db"
	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS paths (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	segment_count INTEGER NOT NULL DEFAULT 0,
	point_count   INTEGER NOT NULL DEFAULT 0,
	metadata      JSONB
);

CREATE TABLE IF NOT EXISTS path_segments (
	path_id TEXT NOT NULL REFERENCES paths(id) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	type    TEXT NOT NULL,
	points  INTEGER NOT NULL,
	segment JSONB NOT NULL,
	PRIMARY KEY (path_id, seq)
);

CREATE INDEX IF NOT EXISTS paths_started_at_idx ON paths (started_at DESC);
`

// PostgresStore persists paths in postgres.
type PostgresStore struct {
	db db.Querier
}

// NewPostgresStore wraps a pool (or any Querier).
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("collector: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartPath(ctx context.Context, sessionID string, at time.Time) (PathRecord, error) {
	rec := PathRecord{ID: uuid.NewString(), SessionID: sessionID, StartedAt: at}
	_, err := s.db.Exec(ctx,
		`INSERT INTO paths (id, session_id, started_at) VALUES ($1, $2, $3)`,
		rec.ID, rec.SessionID, rec.StartedAt)
	if err != nil {
		return PathRecord{}, fmt.Errorf("collector: start path: %w", err)
	}
	return rec, nil
}

// AppendSegments bumps the path's counters and inserts the segments in one
// transaction. The returned segment_count reserves the seq range.
func (s *PostgresStore) AppendSegments(ctx context.Context, pathID string, segments []path.PathSegment) (int, error) {
	var total int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE paths SET segment_count = segment_count + $2, point_count = point_count + $3
			 WHERE id = $1 AND ended_at IS NULL RETURNING segment_count`,
			pathID, len(segments), path.PointCount(segments)).Scan(&total)
		if err != nil {
			return openError(ctx, tx, pathID, err)
		}
		return insertSegments(ctx, tx, pathID, total-len(segments), segments)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *PostgresStore) EndPath(ctx context.Context, pathID string, segments []path.PathSegment, meta protocol.SessionMetadata, at time.Time) (int, error) {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("collector: encode metadata: %w", err)
	}

	var total int
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE paths SET segment_count = segment_count + $2, point_count = point_count + $3,
			 ended_at = $4, metadata = $5
			 WHERE id = $1 AND ended_at IS NULL RETURNING segment_count`,
			pathID, len(segments), path.PointCount(segments), at, rawMeta).Scan(&total)
		if err != nil {
			return openError(ctx, tx, pathID, err)
		}
		return insertSegments(ctx, tx, pathID, total-len(segments), segments)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// inTx commits only when fn succeeds and rolls back otherwise.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("collector: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("collector: commit: %w", err)
	}
	return nil
}

// openError explains why an update on an open path matched no row.
func openError(ctx context.Context, tx pgx.Tx, pathID string, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("collector: update path: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM paths WHERE id = $1)`, pathID).Scan(&exists); err != nil {
		return fmt.Errorf("collector: lookup path: %w", err)
	}
	if !exists {
		return ErrPathNotFound
	}
	return ErrPathEnded
}

func insertSegments(ctx context.Context, tx pgx.Tx, pathID string, seq int, segments []path.PathSegment) error {
	for i, seg := range segments {
		raw, err := json.Marshal(seg)
		if err != nil {
			return fmt.Errorf("collector: encode segment: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO path_segments (path_id, seq, type, points, segment) VALUES ($1, $2, $3, $4, $5)`,
			pathID, seq+i, seg.Type.String(), seg.Len(), raw)
		if err != nil {
			return fmt.Errorf("collector: insert segment: %w", err)
		}
	}
	return nil
}

const pathColumns = `id, session_id, started_at, ended_at, segment_count, point_count, metadata`

func scanRecord(row pgx.Row) (PathRecord, error) {
	var (
		rec     PathRecord
		rawMeta []byte
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StartedAt, &rec.EndedAt,
		&rec.Segments, &rec.Points, &rawMeta); err != nil {
		return PathRecord{}, err
	}
	if len(rawMeta) > 0 {
		var meta protocol.SessionMetadata
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return PathRecord{}, fmt.Errorf("collector: decode metadata: %w", err)
		}
		rec.Metadata = &meta
	}
	return rec, nil
}

func (s *PostgresStore) Path(ctx context.Context, pathID string) (*Path, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+pathColumns+` FROM paths WHERE id = $1`, pathID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPathNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("collector: get path: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT segment FROM path_segments WHERE path_id = $1 ORDER BY seq`, pathID)
	if err != nil {
		return nil, fmt.Errorf("collector: list segments: %w", err)
	}
	defer rows.Close()

	p := &Path{PathRecord: rec, PathSegments: []path.PathSegment{}}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("collector: scan segment: %w", err)
		}
		var seg path.PathSegment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return nil, fmt.Errorf("collector: decode segment: %w", err)
		}
		p.PathSegments = append(p.PathSegments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collector: list segments: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Paths(ctx context.Context, limit int) ([]PathRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+pathColumns+` FROM paths ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("collector: list paths: %w", err)
	}
	defer rows.Close()

	records := []PathRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("collector: scan path: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collector: list paths: %w", err)
	}
	return records, nil
}
