// v4
// internal/scylla/session.go
// Package scylla wraps the gocql driver behind the narrow surface the sink
// and query layers need: plain execs, lightweight-transaction (CAS) execs,
// map-shaped selects and unlogged batches.
package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
)

// ErrNotFound reports an empty single-row select.
var ErrNotFound = errors.New("scylla: not found")

// Stmt is one bound statement of an unlogged batch.
type Stmt struct {
	Query string
	Args  []any
}

// DB is the database surface shared by every component. *Session implements
// it against a live cluster; tests substitute recording fakes.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) error
	// ExecCAS runs a conditional (IF NOT EXISTS / IF EXISTS) statement and
	// reports whether it was applied.
	ExecCAS(ctx context.Context, query string, args ...any) (bool, error)
	SelectMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	// SelectOneMap returns the first row or ErrNotFound.
	SelectOneMap(ctx context.Context, query string, args ...any) (map[string]any, error)
	ExecBatchUnlogged(ctx context.Context, stmts []Stmt) error
	Close()
}

// Config carries the cluster connection settings.
type Config struct {
	Hosts    []string
	Username string
	Password string
	Keyspace string
	Timeout  time.Duration
}

// Session is the gocql-backed DB implementation. The underlying session is
// connection-pooled and safe for concurrent use, so a single Session is
// shared by the shards, the router and the query layer.
type Session struct {
	inner *gocql.Session
}

// Connect opens an authenticated, LZ4-compressed, keyspace-bound session.
func Connect(cfg Config) (*Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Compressor = lz4Compressor{}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	inner, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	return &Session{inner: inner}, nil
}

func (s *Session) query(ctx context.Context, query string, args ...any) *gocql.Query {
	// Serial consistency matches the compare-and-set writes on the producer
	// lock and info tables; it is a no-op for plain statements.
	return s.inner.Query(query, args...).
		WithContext(ctx).
		SerialConsistency(gocql.Serial)
}

func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	return s.query(ctx, query, args...).Exec()
}

func (s *Session) ExecCAS(ctx context.Context, query string, args ...any) (bool, error) {
	prev := make(map[string]any)
	applied, err := s.query(ctx, query, args...).MapScanCAS(prev)
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Session) SelectMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	iter := s.query(ctx, query, args...).Iter()
	rows, err := iter.SliceMap()
	if err != nil {
		return nil, err
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Session) SelectOneMap(ctx context.Context, query string, args ...any) (map[string]any, error) {
	row := make(map[string]any)
	if err := s.query(ctx, query, args...).MapScan(row); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

func (s *Session) ExecBatchUnlogged(ctx context.Context, stmts []Stmt) error {
	batch := s.inner.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, st := range stmts {
		batch.Query(st.Query, st.Args...)
	}
	return s.inner.ExecuteBatch(batch)
}

func (s *Session) Close() {
	s.inner.Close()
}
