// v3
// internal/sink/router.go
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"chainsink/internal/metrics"
	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

const (
	routerMailboxCapacity = 15

	// One hour worth of slots at roughly one slot per 400 ms.
	slotSeenRetention = 9000
)

// slotSet is an ordered set of slots bounded to a retention size. An insert
// that brings the set up to the bound evicts the smallest slots, so it holds
// at most retention-1 entries between inserts.
type slotSet struct {
	retention int
	present   map[types.Slot]struct{}
	ordered   []types.Slot // ascending
}

func newSlotSet(retention int) *slotSet {
	return &slotSet{
		retention: retention,
		present:   make(map[types.Slot]struct{}, retention),
	}
}

// insert reports whether the slot was new. Re-observing an evicted slot
// counts as new again.
func (s *slotSet) insert(slot types.Slot) bool {
	if _, ok := s.present[slot]; ok {
		return false
	}
	s.present[slot] = struct{}{}
	i := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i] >= slot })
	s.ordered = append(s.ordered, 0)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = slot
	for len(s.ordered) >= s.retention {
		evicted := s.ordered[0]
		s.ordered = s.ordered[1:]
		delete(s.present, evicted)
	}
	return true
}

func (s *slotSet) len() int { return len(s.ordered) }

// routerHandle is the inbound mailbox plus join surface of the router daemon.
type routerHandle struct {
	mailbox chan shardCommand
	done    chan struct{}
	err     error
}

func (r *routerHandle) send(ctx context.Context, cmd shardCommand) error {
	select {
	case r.mailbox <- cmd:
		return nil
	case <-r.done:
		return fmt.Errorf("router mailbox closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *routerHandle) join(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawnRoundRobin starts the router daemon: commands are dealt to shards in
// strict rotation by arrival index, and the first observation of each slot is
// committed to producer_slot_seen through a serial background pipeline.
func spawnRoundRobin(db scylla.DB, log *slog.Logger, producerID types.ProducerID, shards []*shardHandle) *routerHandle {
	h := &routerHandle{
		mailbox: make(chan shardCommand, routerMailboxCapacity),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.err = runRouter(db, log.With("component", "router"), producerID, shards, h)
	}()
	return h
}

func runRouter(db scylla.DB, log *slog.Logger, producerID types.ProducerID, shards []*shardHandle, h *routerHandle) error {
	ctx := context.Background()
	log.Info("router_started", "shards", len(shards))

	slots := newSlotSet(slotSeenRetention)
	maxSlotSeen := types.Slot(-1)
	msgBetweenSlot := 0
	lastNewSlot := time.Now()

	// At most one slot-seen write is in flight; the previous one is awaited
	// before the next is spawned.
	prevCommit := make(chan error, 1)
	prevCommit <- nil

	var loopErr error
	idx := 0
	for {
		cmd, ok := <-h.mailbox
		if !ok || cmd.kind == cmdShutdown {
			log.Warn("router_mailbox_closed")
			break
		}

		slot := cmd.slot()
		if slots.insert(slot) {
			if maxSlotSeen > slot {
				log.Warn("late_slot", "slot", int64(slot), "max_slot_seen", int64(maxSlotSeen))
			} else {
				maxSlotSeen = slot
			}
			if err := <-prevCommit; err != nil {
				loopErr = fmt.Errorf("slot seen commit: %w", err)
				break
			}
			sinceLast := time.Since(lastNewSlot)
			between := msgBetweenSlot
			shardOffsetMap := make(map[int16]int64, len(shards))
			for _, sh := range shards {
				shardOffsetMap[int16(sh.shardID)] = int64(sh.lastCommittedOffset())
			}
			commitDone := make(chan error, 1)
			go func(slot types.Slot) {
				t := time.Now()
				err := db.Exec(ctx, insertProducerSlot, producerID.Bytes(), int64(slot), shardOffsetMap)
				if err == nil {
					metrics.IncSlotSeen()
					log.Info("new_slot",
						"slot", int64(slot),
						"since_last_slot", sinceLast.String(),
						"events_between", between,
						"took", time.Since(t).String(),
					)
				}
				commitDone <- err
			}(slot)
			prevCommit = commitDone
			lastNewSlot = time.Now()
			msgBetweenSlot = 0
		}
		msgBetweenSlot++

		sh := shards[idx%len(shards)]
		if err := sh.send(ctx, cmd); err != nil {
			log.Error("shard_closed", "shard", int(sh.shardID), "err", err)
			loopErr = err
			break
		}
		metrics.IncBatchRequestLag()
		idx++
	}

	for _, sh := range shards {
		log.Warn("shard_shutdown_sent", "shard", int(sh.shardID))
		if err := sh.send(ctx, shardCommand{kind: cmdShutdown}); err != nil && loopErr == nil {
			loopErr = err
		}
	}
	for _, sh := range shards {
		if err := sh.join(ctx); err != nil && loopErr == nil {
			loopErr = err
		}
	}
	if err := <-prevCommit; err != nil && loopErr == nil {
		loopErr = fmt.Errorf("slot seen commit: %w", err)
	}
	log.Warn("router_stopped")
	return loopErr
}
