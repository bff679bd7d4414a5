// v1
// internal/sink/lock_test.go
package sink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chainsink/internal/types"
)

func TestInsertProducerInfoDuplicate(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(string, []any) (bool, error) { return false, nil }
	err := insertProducerInfo(context.Background(), db, testProducer, types.CommitmentFinalized, 4)
	if !errors.Is(err, ErrDuplicateProducer) {
		t.Fatalf("expected ErrDuplicateProducer, got %v", err)
	}
}

func TestLoadProducerLockStateInsertsRow(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	lock := newFakeLock(9)
	plock, err := loadProducerLockState(context.Background(), db, testProducer, "eth0", "10.1.2.3", lock, discardLogger())
	if err != nil {
		t.Fatalf("loadProducerLockState: %v", err)
	}
	if plock == nil {
		t.Fatal("expected producer lock")
	}
	if len(db.casOps) != 1 {
		t.Fatalf("expected one CAS insert, got %d", len(db.casOps))
	}
	call := db.casOps[0]
	if !strings.Contains(call.query, "IF NOT EXISTS") {
		t.Fatalf("expected compare-and-set insert, got: %s", call.query)
	}
	if rev := call.args[4].(int64); rev != 9 {
		t.Fatalf("expected revision 9 in lock row, got %d", rev)
	}
}

func TestLoadProducerLockStateReclaimsExistingRow(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(query string, _ []any) (bool, error) {
		// The insert loses to the leftover row; the reclaim update wins.
		return !strings.Contains(query, "IF NOT EXISTS"), nil
	}
	lock := newFakeLock(12)
	if _, err := loadProducerLockState(context.Background(), db, testProducer, "eth0", "10.1.2.3", lock, discardLogger()); err != nil {
		t.Fatalf("loadProducerLockState: %v", err)
	}
	if len(db.casOps) != 2 {
		t.Fatalf("expected insert then reclaim, got %d CAS ops", len(db.casOps))
	}
	reclaim := db.casOps[1]
	if !strings.Contains(reclaim.query, "UPDATE producer_lock") {
		t.Fatalf("expected reclaim update, got: %s", reclaim.query)
	}
	if rev := reclaim.args[3].(int64); rev != 12 {
		t.Fatalf("expected fresh revision 12, got %d", rev)
	}
}

func TestLoadProducerLockStateRevoked(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(string, []any) (bool, error) { return false, nil }
	_, err := loadProducerLockState(context.Background(), db, testProducer, "eth0", "10.1.2.3", newFakeLock(1), discardLogger())
	if !errors.Is(err, ErrLockRevoked) {
		t.Fatalf("expected ErrLockRevoked, got %v", err)
	}
}

func TestSetMinimumOffsetsPublishesEveryShard(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	plock := &producerLock{db: db, producerID: testProducer, log: discardLogger()}
	offsets := map[types.ShardID]types.ShardOffset{0: 14, 1: -1}
	if err := plock.setMinimumOffsets(context.Background(), offsets, 555); err != nil {
		t.Fatalf("setMinimumOffsets: %v", err)
	}
	if len(db.casOps) != 1 {
		t.Fatalf("expected one CAS update, got %d", len(db.casOps))
	}
	minimum := db.casOps[0].args[0].(map[int16][]int64)
	if len(minimum) != 2 {
		t.Fatalf("expected 2 shard entries, got %d", len(minimum))
	}
	if got := minimum[0]; got[0] != 14 || got[1] != 555 {
		t.Fatalf("unexpected shard 0 entry: %v", got)
	}
	if got := minimum[1]; got[0] != -1 || got[1] != 555 {
		t.Fatalf("unexpected shard 1 entry: %v", got)
	}
}

func TestSetMinimumOffsetsRevoked(t *testing.T) {
	t.Parallel()
	db := newFakeDB()
	db.casFn = func(string, []any) (bool, error) { return false, nil }
	plock := &producerLock{db: db, producerID: testProducer, log: discardLogger()}
	err := plock.setMinimumOffsets(context.Background(), map[types.ShardID]types.ShardOffset{0: 0}, 1)
	if !errors.Is(err, ErrLockRevoked) {
		t.Fatalf("expected ErrLockRevoked, got %v", err)
	}
}
