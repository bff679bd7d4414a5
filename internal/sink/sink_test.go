// v2
// internal/sink/sink_test.go
package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainsink/internal/locksvc"
	"chainsink/internal/types"
)

func testDeps(lock *fakeLock) deps {
	return deps{
		tryLock: func(context.Context, string) (locksvc.Lock, error) {
			return lock, nil
		},
		resolveIface: func(string) (string, string, error) {
			return "eth0", "10.0.0.5", nil
		},
	}
}

func TestSinkStartupWriteShutdown(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	lock := newFakeLock(3)
	cfg := DefaultConfig()
	cfg.NumShards = 2
	cfg.BatchLenLimit = 8
	cfg.Linger = time.Hour

	ctx := context.Background()
	s, err := newSink(ctx, db, testDeps(lock), cfg, testProducer, 123, discardLogger())
	require.NoError(t, err)
	require.True(t, s.Ready())

	// Startup sequence: producer info CAS, initial lock row CAS, readiness
	// CAS with every shard's minimum offset.
	require.Len(t, db.casOps, 3)
	require.Contains(t, db.casOps[0].query, "producer_info")
	require.Contains(t, db.casOps[1].query, "producer_lock")
	require.Contains(t, db.casOps[2].query, "is_ready = true")
	minimum := db.casOps[2].args[0].(map[int16][]int64)
	require.Len(t, minimum, 2)
	for shardID, tuple := range minimum {
		require.Equal(t, []int64{-1, 123}, tuple, "shard %d", shardID)
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, s.LogAccountUpdate(ctx, types.AccountUpdate{
			Slot:   types.Slot(1000 + i),
			Pubkey: []byte("pk"),
		}))
	}
	require.NoError(t, s.LogTransaction(ctx, types.Transaction{
		Slot:      types.Slot(1004),
		Signature: []byte("sig"),
	}))

	require.NoError(t, s.Shutdown(ctx))
	require.False(t, s.Ready())
	require.True(t, lock.isUnlocked())

	// Round-robin over two fresh shards: indexes 0,2,4 landed on shard 0 as
	// offsets 0..2 and indexes 1,3 on shard 1 as offsets 0..1.
	perShard := map[int16][]int64{}
	db.mu.Lock()
	for _, batch := range db.batches {
		for _, st := range batch {
			shardID := st.Args[0].(int16)
			perShard[shardID] = append(perShard[shardID], st.Args[3].(int64))
		}
	}
	db.mu.Unlock()
	require.Equal(t, []int64{0, 1, 2}, perShard[0])
	require.Equal(t, []int64{0, 1}, perShard[1])

	// Five distinct slots, five slot-seen rows; shutdown released readiness.
	require.Len(t, db.execs, 5)
	released := db.casOps[len(db.casOps)-1]
	require.Contains(t, released.query, "is_ready = false")
}

func TestSinkStartupFailsOnDuplicateProducer(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(query string, _ []any) (bool, error) {
		return !strings.Contains(query, "producer_info"), nil
	}
	cfg := DefaultConfig()
	cfg.NumShards = 1
	_, err := newSink(context.Background(), db, testDeps(newFakeLock(1)), cfg, testProducer, 0, discardLogger())
	require.ErrorIs(t, err, ErrDuplicateProducer)
}

func TestSinkStartupReleasesLockOnReadinessFailure(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(query string, _ []any) (bool, error) {
		return !strings.Contains(query, "is_ready = true"), nil
	}
	lock := newFakeLock(1)
	cfg := DefaultConfig()
	cfg.NumShards = 1
	_, err := newSink(context.Background(), db, testDeps(lock), cfg, testProducer, 0, discardLogger())
	require.ErrorIs(t, err, ErrLockRevoked)
	require.True(t, lock.isUnlocked())
}

func TestResolveProducerID(t *testing.T) {
	t.Parallel()
	pid, err := resolveProducerID("6f1c5b0a-8a6e-4b5f-9d3e-2f9f3a6a1c22")
	require.NoError(t, err)
	require.Equal(t, types.ProducerID{0x6f}, pid)

	fresh, err := resolveProducerID("")
	require.NoError(t, err)
	require.Len(t, fresh.Bytes(), 1)
}
