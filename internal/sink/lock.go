// v3
// internal/sink/lock.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chainsink/internal/locksvc"
	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

var (
	// ErrDuplicateProducer reports a producer_info row that already exists
	// under this producer id.
	ErrDuplicateProducer = errors.New("sink: producer info already exists")

	// ErrLockRevoked reports that the producer lock row was taken over while
	// this process believed it was the holder.
	ErrLockRevoked = errors.New("sink: producer lock state has been revoked")
)

// insertProducerInfo registers the immutable producer identity. The insert is
// compare-and-set: a second producer with the same id is a fatal duplicate.
func insertProducerInfo(ctx context.Context, db scylla.DB, producerID types.ProducerID, level types.CommitmentLevel, numShards int) error {
	applied, err := db.ExecCAS(ctx, insertProducerInfoLegacyStmt, producerID.Bytes(), int16(level), int16(numShards))
	if err != nil {
		return fmt.Errorf("insert producer info: %w", err)
	}
	if !applied {
		return ErrDuplicateProducer
	}
	return nil
}

// producerLock is the database half of producer mutual exclusion: one row in
// producer_lock carrying the fencing revision consumers check against etcd.
type producerLock struct {
	db         scylla.DB
	producerID types.ProducerID
	log        *slog.Logger
}

// loadProducerLockState writes the initial lock row. The row survives clean
// shutdowns, so a failed compare-and-set insert is reclaimed in place: the
// etcd lock held by the caller is the actual mutual exclusion, the row only
// records who holds it and under which revision.
func loadProducerLockState(ctx context.Context, db scylla.DB, producerID types.ProducerID, ifname, ipv4 string, lock locksvc.Lock, log *slog.Logger) (*producerLock, error) {
	executionID := []byte(lock.ExecutionID())
	applied, err := db.ExecCAS(ctx, insertInitialProducerLock, producerID.Bytes(), ifname, ipv4, executionID, lock.Revision())
	if err != nil {
		return nil, fmt.Errorf("insert producer lock row: %w", err)
	}
	if !applied {
		reclaimed, err := db.ExecCAS(ctx, reclaimProducerLock, ifname, ipv4, executionID, lock.Revision(), producerID.Bytes())
		if err != nil {
			return nil, fmt.Errorf("reclaim producer lock row: %w", err)
		}
		if !reclaimed {
			return nil, ErrLockRevoked
		}
		log.Info("producer_lock_row_reclaimed", "producer", producerID.String(), "revision", lock.Revision())
	}
	return &producerLock{
		db:         db,
		producerID: producerID,
		log:        log.With("component", "producer_lock"),
	}, nil
}

// setMinimumOffsets publishes the recovered per-shard floor offsets and flips
// is_ready. A failed compare-and-set means the row was revoked underneath us.
func (p *producerLock) setMinimumOffsets(ctx context.Context, offsets map[types.ShardID]types.ShardOffset, initialSlot types.Slot) error {
	minimum := make(map[int16][]int64, len(offsets))
	for shardID, offset := range offsets {
		minimum[int16(shardID)] = []int64{int64(offset), int64(initialSlot)}
	}
	p.log.Info("setting_minimum_shard_offsets", "shards", len(minimum), "initial_slot", int64(initialSlot))
	applied, err := p.db.ExecCAS(ctx, updateProducerLockReady, minimum, p.producerID.Bytes())
	if err != nil {
		return fmt.Errorf("set minimum producer offsets: %w", err)
	}
	if !applied {
		return ErrLockRevoked
	}
	return nil
}

// release drops readiness at shutdown. The row itself persists; consumers
// fence on the etcd revision.
func (p *producerLock) release(ctx context.Context) error {
	_, err := p.db.ExecCAS(ctx, releaseProducerLock, p.producerID.Bytes())
	if err != nil {
		return fmt.Errorf("release producer lock row: %w", err)
	}
	return nil
}
