// v2
// internal/sink/recovery.go
package sink

import (
	"context"
	"errors"
	"fmt"

	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

// ErrRecoveryIncomplete reports that offset recovery could not cover every
// shard, which must abort startup.
var ErrRecoveryIncomplete = errors.New("sink: offset recovery missing shards")

// GetMaxShardOffsetsForProducer reconstructs the newest persisted offset and
// its slot for every shard of the producer. The period commit log bounds the
// scan to a single log partition per shard: the most recent committed period
// plus one is where the producer last wrote. An empty partition means no
// write has landed in the current period yet, so recovery seeks to the last
// offset of the previous period with an undefined slot.
func GetMaxShardOffsetsForProducer(ctx context.Context, db scylla.DB, producerID types.ProducerID, numShards int) (map[types.ShardID]types.OffsetSlot, error) {
	currentPeriods, err := currentPeriodForEachShard(ctx, db, producerID, numShards)
	if err != nil {
		return nil, err
	}

	out := make(map[types.ShardID]types.OffsetSlot, numShards)
	for shardID, period := range currentPeriods {
		row, err := db.SelectOneMap(ctx, queryMaxOffsetForShardPeriod, producerID.Bytes(), int16(shardID), period)
		switch {
		case errors.Is(err, scylla.ErrNotFound):
			out[shardID] = types.OffsetSlot{
				Offset: types.ShardOffset(period*types.ShardOffsetModulo - 1),
				Slot:   types.UndefinedSlot,
			}
		case err != nil:
			return nil, fmt.Errorf("max offset for shard %d period %d: %w", shardID, period, err)
		default:
			offset, ok := scylla.AsInt64(row["offset"])
			if !ok {
				return nil, fmt.Errorf("shard %d: unreadable offset column", shardID)
			}
			slot, ok := scylla.AsInt64(row["slot"])
			if !ok {
				return nil, fmt.Errorf("shard %d: unreadable slot column", shardID)
			}
			out[shardID] = types.OffsetSlot{Offset: types.ShardOffset(offset), Slot: types.Slot(slot)}
		}
	}
	if len(out) != numShards {
		return nil, ErrRecoveryIncomplete
	}
	return out, nil
}

// getMaxShardOffsets is the offsets-only variant used at startup to seed each
// shard's next offset.
func getMaxShardOffsets(ctx context.Context, db scylla.DB, producerID types.ProducerID, numShards int) (map[types.ShardID]types.ShardOffset, error) {
	withSlots, err := GetMaxShardOffsetsForProducer(ctx, db, producerID, numShards)
	if err != nil {
		return nil, err
	}
	out := make(map[types.ShardID]types.ShardOffset, len(withSlots))
	for shardID, pair := range withSlots {
		out[shardID] = pair.Offset
	}
	return out, nil
}

func currentPeriodForEachShard(ctx context.Context, db scylla.DB, producerID types.ProducerID, numShards int) (map[types.ShardID]int64, error) {
	shardList := make([]int16, numShards)
	for i := range shardList {
		shardList[i] = int16(i)
	}
	rows, err := db.SelectMaps(ctx, queryLastPeriodCommit, producerID.Bytes(), shardList)
	if err != nil {
		return nil, fmt.Errorf("read period commit log: %w", err)
	}
	periods := make(map[types.ShardID]int64, numShards)
	for _, row := range rows {
		shardID, ok := scylla.AsInt16(row["shard_id"])
		if !ok {
			return nil, errors.New("unreadable shard_id in period commit log")
		}
		period, ok := scylla.AsInt64(row["period"])
		if !ok {
			return nil, errors.New("unreadable period in period commit log")
		}
		periods[types.ShardID(shardID)] = period + 1
	}
	// Shards with no commit yet start at period 0.
	for i := 0; i < numShards; i++ {
		if _, ok := periods[types.ShardID(i)]; !ok {
			periods[types.ShardID(i)] = 0
		}
	}
	return periods, nil
}
