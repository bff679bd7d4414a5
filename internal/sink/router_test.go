// v2
// internal/sink/router_test.go
package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"chainsink/internal/types"
)

// stubShard is a shardHandle drained by a plain goroutine instead of a real
// shard daemon. It records every routed command.
type stubShard struct {
	handle *shardHandle

	mu   sync.Mutex
	cmds []shardCommand
}

func newStubShard(shardID types.ShardID, lastOffset types.ShardOffset) *stubShard {
	st := &stubShard{
		handle: &shardHandle{
			shardID: shardID,
			mailbox: make(chan shardCommand, shardMailboxCapacity),
			done:    make(chan struct{}),
			watch:   newOffsetWatch(lastOffset),
		},
	}
	go func() {
		defer close(st.handle.done)
		for cmd := range st.handle.mailbox {
			if cmd.kind == cmdShutdown {
				return
			}
			st.mu.Lock()
			st.cmds = append(st.cmds, cmd)
			st.mu.Unlock()
		}
	}()
	return st
}

func (st *stubShard) received() []shardCommand {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]shardCommand, len(st.cmds))
	copy(out, st.cmds)
	return out
}

func TestRouterRoundRobinAndSlotSeen(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	shard0 := newStubShard(0, 41)
	shard1 := newStubShard(1, 17)
	router := spawnRoundRobin(db, discardLogger(), testProducer, []*shardHandle{shard0.handle, shard1.handle})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Slot 3 arrives after 5: late, but still recorded.
	slots := []types.Slot{5, 5, 3, 3, 6, 6}
	for _, slot := range slots {
		if err := router.send(ctx, accountCmd(slot)); err != nil {
			t.Fatalf("route slot %d: %v", slot, err)
		}
	}
	if err := router.send(ctx, shardCommand{kind: cmdShutdown}); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	if err := router.join(ctx); err != nil {
		t.Fatalf("router error: %v", err)
	}

	got0, got1 := shard0.received(), shard1.received()
	if len(got0) != 3 || len(got1) != 3 {
		t.Fatalf("expected 3 commands per shard, got %d and %d", len(got0), len(got1))
	}
	// Strict rotation by arrival index: even indexes to shard 0.
	for i, cmd := range got0 {
		if want := slots[2*i]; cmd.account.Slot != want {
			t.Fatalf("shard 0 command %d: expected slot %d, got %d", i, want, cmd.account.Slot)
		}
	}
	for i, cmd := range got1 {
		if want := slots[2*i+1]; cmd.account.Slot != want {
			t.Fatalf("shard 1 command %d: expected slot %d, got %d", i, want, cmd.account.Slot)
		}
	}

	// One producer_slot_seen row per distinct slot, in observation order.
	if len(db.execs) != 3 {
		t.Fatalf("expected 3 slot-seen writes, got %d", len(db.execs))
	}
	wantSlots := []int64{5, 3, 6}
	for i, call := range db.execs {
		if slot := call.args[1].(int64); slot != wantSlots[i] {
			t.Fatalf("slot-seen write %d: expected slot %d, got %d", i, wantSlots[i], slot)
		}
	}

	// The first snapshot reflects the watch cells at observation time.
	snapshot := db.execs[0].args[2].(map[int16]int64)
	if snapshot[0] != 41 || snapshot[1] != 17 {
		t.Fatalf("unexpected shard offset snapshot: %v", snapshot)
	}
}

func TestRouterShutdownDrainsShards(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	shard0 := newStubShard(0, -1)
	router := spawnRoundRobin(db, discardLogger(), testProducer, []*shardHandle{shard0.handle})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.send(ctx, shardCommand{kind: cmdShutdown}); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	if err := router.join(ctx); err != nil {
		t.Fatalf("router error: %v", err)
	}
	select {
	case <-shard0.handle.done:
	default:
		t.Fatal("shard not drained after router shutdown")
	}
}

func TestSlotSetEvictsSmallest(t *testing.T) {
	t.Parallel()
	s := newSlotSet(3)
	for _, slot := range []types.Slot{10, 20, 30} {
		if !s.insert(slot) {
			t.Fatalf("slot %d should be new", slot)
		}
	}
	// Hitting the retention bound evicts from the smallest end.
	if s.len() >= 3 {
		t.Fatalf("expected eviction below retention, len=%d", s.len())
	}
	if s.insert(20) {
		t.Fatal("slot 20 should still be present")
	}
	// A previously evicted slot counts as new again.
	if !s.insert(10) {
		t.Fatal("evicted slot 10 should be insertable again")
	}
}

func TestSlotSetDeduplicates(t *testing.T) {
	t.Parallel()
	s := newSlotSet(slotSeenRetention)
	if !s.insert(42) {
		t.Fatal("first insert should report new")
	}
	if s.insert(42) {
		t.Fatal("second insert should report seen")
	}
	if s.len() != 1 {
		t.Fatalf("expected len 1, got %d", s.len())
	}
}
