// v4
// internal/sink/shard.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chainsink/internal/metrics"
	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

const (
	shardMailboxCapacity = 16

	// Default buffer capacity when batch_len_limit is unset.
	defaultShardMaxBufferCapacity = 15

	warnFlushLatency = 1000 * time.Millisecond
)

// shard owns one ordered lane: it buffers commands, assigns offsets strictly
// sequentially, and appends them to the log table in unlogged batches. Every
// shard batch targets a single (shard_id, period, producer_id) partition
// family, which is what keeps unlogged batching atomic at the storage layer.
type shard struct {
	db         scylla.DB
	log        *slog.Logger
	shardID    types.ShardID
	producerID types.ProducerID

	nextOffset          types.ShardOffset
	buffer              []types.BlockchainEvent
	maxBufferCapacity   int
	maxBufferByteSize   int
	batch               []scylla.Stmt
	currBatchByteSize   int
	bufferLinger        time.Duration
	lastCommittedPeriod types.ShardPeriod
}

func newShard(
	db scylla.DB,
	log *slog.Logger,
	shardID types.ShardID,
	producerID types.ProducerID,
	nextOffset types.ShardOffset,
	maxBufferCapacity int,
	maxBufferByteSize int,
	bufferLinger time.Duration,
) (*shard, error) {
	if nextOffset < 0 {
		return nil, fmt.Errorf("shard %d: next offset can not be negative", shardID)
	}
	if maxBufferCapacity <= 0 {
		maxBufferCapacity = defaultShardMaxBufferCapacity
	}
	return &shard{
		db:                  db,
		log:                 log.With("component", "shard", "shard", int(shardID)),
		shardID:             shardID,
		producerID:          producerID,
		nextOffset:          nextOffset,
		buffer:              make([]types.BlockchainEvent, 0, maxBufferCapacity),
		maxBufferCapacity:   maxBufferCapacity,
		maxBufferByteSize:   maxBufferByteSize,
		batch:               make([]scylla.Stmt, 0, maxBufferCapacity),
		bufferLinger:        bufferLinger,
		lastCommittedPeriod: -1,
	}, nil
}

// shardHandle is the mailbox plus join surface of a running shard daemon.
type shardHandle struct {
	shardID types.ShardID
	mailbox chan shardCommand
	done    chan struct{}
	err     error
	watch   *offsetWatch
}

// send delivers one command, blocking on mailbox capacity. It fails when the
// shard daemon has already exited.
func (h *shardHandle) send(ctx context.Context, cmd shardCommand) error {
	select {
	case <-h.done:
		return fmt.Errorf("shard %d mailbox closed", h.shardID)
	default:
	}
	select {
	case h.mailbox <- cmd:
		return nil
	case <-h.done:
		return fmt.Errorf("shard %d mailbox closed", h.shardID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join waits for the daemon to exit and returns its terminal error.
func (h *shardHandle) join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lastCommittedOffset reads the newest offset published on the watch cell.
func (h *shardHandle) lastCommittedOffset() types.ShardOffset {
	return h.watch.last()
}

// intoDaemon starts the shard's background loop and hands back its mailbox.
func (s *shard) intoDaemon() *shardHandle {
	h := &shardHandle{
		shardID: s.shardID,
		mailbox: make(chan shardCommand, shardMailboxCapacity),
		done:    make(chan struct{}),
		watch:   newOffsetWatch(s.nextOffset - 1),
	}
	go func() {
		defer close(h.done)
		h.err = s.run(h)
	}()
	return h
}

func (s *shard) run(h *shardHandle) error {
	ctx := context.Background()
	bufferingDeadline := time.Now().Add(s.bufferLinger)
	for {
		offset := s.nextOffset
		currPeriod := offset.Period()
		prevPeriod := currPeriod - 1

		// Entering a new period: the previous period's commit marker must be
		// durable before any row of the new period is staged.
		if int64(offset)%types.ShardOffsetModulo == 0 && offset > 0 && s.lastCommittedPeriod != prevPeriod {
			t := time.Now()
			if err := s.db.Exec(ctx, commitShardPeriod, s.producerID.Bytes(), int16(s.shardID), int64(prevPeriod)); err != nil {
				return fmt.Errorf("commit period %d: %w", prevPeriod, err)
			}
			metrics.IncPeriodCommit()
			s.log.Info("period_committed",
				"producer", s.producerID.String(),
				"committed_period", int64(prevPeriod),
				"took", time.Since(t).String(),
			)
			s.lastCommittedPeriod = prevPeriod
		}

		cmd, ok := <-h.mailbox
		if !ok {
			return errors.New("shard mailbox closed")
		}

		var ev types.BlockchainEvent
		switch cmd.kind {
		case cmdShutdown:
			s.log.Warn("shard_shutdown_received")
			if err := s.flush(ctx); err != nil {
				return err
			}
			s.log.Warn("shard_shutdown_done")
			return nil
		case cmdInsertAccountUpdate:
			ev = cmd.account.AsBlockchainEvent(s.shardID, s.producerID, offset)
		case cmdInsertTransaction:
			ev = cmd.tx.AsBlockchainEvent(s.shardID, s.producerID, offset)
		default:
			return fmt.Errorf("unknown shard command kind %d", cmd.kind)
		}

		msgByteSize := ev.ByteSize()
		needFlush := len(s.buffer) >= s.maxBufferCapacity ||
			s.currBatchByteSize+msgByteSize >= s.maxBufferByteSize ||
			!time.Now().Before(bufferingDeadline)
		if needFlush {
			if err := s.flush(ctx); err != nil {
				return err
			}
			bufferingDeadline = time.Now().Add(s.bufferLinger)
		}

		s.buffer = append(s.buffer, ev)
		s.batch = append(s.batch, scylla.Stmt{Query: insertBlockchainEvent, Args: bindEvent(&ev)})
		s.currBatchByteSize += msgByteSize
		h.watch.publish(offset)
		s.nextOffset++
	}
}

// flush appends the staged rows as one unlogged batch. The batch must succeed
// before the loop continues: that is what keeps the shard timeline monotonic.
func (s *shard) flush(ctx context.Context) error {
	n := len(s.buffer)
	if n > 0 {
		before := time.Now()
		if err := s.db.ExecBatchUnlogged(ctx, s.batch); err != nil {
			return fmt.Errorf("flush %d events: %w", n, err)
		}
		metrics.SubBatchRequestLag(n)
		metrics.IncBatchSent(n)
		if elapsed := time.Since(before); elapsed >= warnFlushLatency {
			s.log.Warn("slow_batch", "events", n, "took", elapsed.String())
		}
	}
	s.buffer = s.buffer[:0]
	s.batch = s.batch[:0]
	s.currBatchByteSize = 0
	return nil
}

func bindEvent(e *types.BlockchainEvent) []any {
	return []any{
		int16(e.ShardID),
		int64(e.Period),
		e.ProducerID.Bytes(),
		int64(e.Offset),
		int64(e.Slot),
		int8(e.EventType),
		e.Pubkey,
		e.Lamports,
		e.Owner,
		e.Executable,
		e.RentEpoch,
		e.WriteVersion,
		e.Data,
		e.TxnSignature,
		e.Signature,
		e.Signatures,
		e.NumReadonlySignedAccounts,
		e.NumReadonlyUnsignedAccounts,
		e.NumRequiredSignatures,
		e.AccountKeys,
		e.RecentBlockhash,
		e.Instructions,
		e.Versioned,
		e.AddressTableLookups,
		e.Meta,
		e.IsVote,
		e.TxIndex,
	}
}
