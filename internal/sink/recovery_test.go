// v1
// internal/sink/recovery_test.go
package sink

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

func TestRecoveryFreshStart(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	offsets, err := getMaxShardOffsets(context.Background(), db, testProducer, 2)
	require.NoError(t, err)
	require.Len(t, offsets, 2)
	// No period commits, no log rows: every shard seeks to the end of the
	// virtual period before period 0, so the next offset is 0.
	require.Equal(t, types.ShardOffset(-1), offsets[0])
	require.Equal(t, types.ShardOffset(-1), offsets[1])
}

func TestRecoveryResumesAfterCommittedPeriods(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.selectFn = func(query string, _ []any) ([]map[string]any, error) {
		if strings.Contains(query, "producer_period_commit_log") {
			return []map[string]any{
				{"shard_id": int16(0), "period": int64(1)},
			}, nil
		}
		return nil, nil
	}
	db.selectOne = func(query string, args []any) (map[string]any, error) {
		if !strings.Contains(query, "FROM log") {
			return nil, scylla.ErrNotFound
		}
		shardID := args[1].(int16)
		period := args[2].(int64)
		if shardID == 0 {
			require.Equal(t, int64(2), period)
			return map[string]any{
				"offset": 2*types.ShardOffsetModulo + 5,
				"slot":   int64(777),
			}, nil
		}
		// Shard 1 never committed a period and has no rows in period 0.
		require.Equal(t, int64(0), period)
		return nil, scylla.ErrNotFound
	}

	pairs, err := GetMaxShardOffsetsForProducer(context.Background(), db, testProducer, 2)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, types.OffsetSlot{Offset: types.ShardOffset(2*types.ShardOffsetModulo + 5), Slot: 777}, pairs[0])
	require.Equal(t, types.OffsetSlot{Offset: -1, Slot: types.UndefinedSlot}, pairs[1])
}

func TestRecoveryEmptyCurrentPeriodFallsBack(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.selectFn = func(query string, _ []any) ([]map[string]any, error) {
		if strings.Contains(query, "producer_period_commit_log") {
			return []map[string]any{
				{"shard_id": int16(0), "period": int64(2)},
			}, nil
		}
		return nil, nil
	}
	// The current period (3) has no rows yet: seek to the last offset of
	// period 2.
	pairs, err := GetMaxShardOffsetsForProducer(context.Background(), db, testProducer, 1)
	require.NoError(t, err)
	require.Equal(t, types.OffsetSlot{
		Offset: types.ShardOffset(3*types.ShardOffsetModulo - 1),
		Slot:   types.UndefinedSlot,
	}, pairs[0])
}
