// v1
// internal/sink/fakes_test.go
package sink

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"chainsink/internal/locksvc"
	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type dbCall struct {
	query string
	args  []any
}

// fakeDB records every operation in arrival order and answers reads through
// pluggable hooks.
type fakeDB struct {
	mu      sync.Mutex
	execs   []dbCall
	casOps  []dbCall
	batches [][]scylla.Stmt
	// ops interleaves exec and CAS calls (by query) with "batch" markers to
	// assert ordering.
	ops []dbCall

	execErr   error
	batchErr  error
	casFn     func(query string, args []any) (bool, error)
	selectFn  func(query string, args []any) ([]map[string]any, error)
	selectOne func(query string, args []any) (map[string]any, error)
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		casFn: func(string, []any) (bool, error) { return true, nil },
	}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return f.execErr
	}
	call := dbCall{query: query, args: args}
	f.execs = append(f.execs, call)
	f.ops = append(f.ops, call)
	return nil
}

func (f *fakeDB) ExecCAS(_ context.Context, query string, args ...any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := dbCall{query: query, args: args}
	f.casOps = append(f.casOps, call)
	f.ops = append(f.ops, call)
	return f.casFn(query, args)
}

func (f *fakeDB) SelectMaps(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectFn != nil {
		return f.selectFn(query, args)
	}
	return nil, nil
}

func (f *fakeDB) SelectOneMap(_ context.Context, query string, args ...any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectOne != nil {
		return f.selectOne(query, args)
	}
	return nil, scylla.ErrNotFound
}

func (f *fakeDB) ExecBatchUnlogged(_ context.Context, stmts []scylla.Stmt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	cp := make([]scylla.Stmt, len(stmts))
	copy(cp, stmts)
	f.batches = append(f.batches, cp)
	f.ops = append(f.ops, dbCall{query: "batch"})
	return nil
}

func (f *fakeDB) Close() {}

func (f *fakeDB) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.batches))
	for i, b := range f.batches {
		out[i] = len(b)
	}
	return out
}

// batchOffsets flattens the offset column of every batched insert.
func (f *fakeDB) batchOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, b := range f.batches {
		for _, st := range b {
			out = append(out, st.Args[3].(int64))
		}
	}
	return out
}

type fakeLock struct {
	revision int64
	execID   types.ExecutionID
	done     chan struct{}

	mu       sync.Mutex
	unlocked bool
}

var _ locksvc.Lock = (*fakeLock)(nil)

func newFakeLock(revision int64) *fakeLock {
	return &fakeLock{
		revision: revision,
		execID:   types.ExecutionID("exec-1"),
		done:     make(chan struct{}),
	}
}

func (l *fakeLock) Revision() int64                { return l.revision }
func (l *fakeLock) ExecutionID() types.ExecutionID { return l.execID }
func (l *fakeLock) Done() <-chan struct{}          { return l.done }

func (l *fakeLock) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = true
	return nil
}

func (l *fakeLock) isUnlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unlocked
}
