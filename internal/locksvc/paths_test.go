// v1
// internal/locksvc/paths_test.go
package locksvc

import (
	"testing"

	"chainsink/internal/types"
)

func TestProducerLockPathRoundTrip(t *testing.T) {
	t.Parallel()
	pid := types.ProducerID{0x7f}
	path := ProducerLockPath(pid)
	// The lock recipe appends a lease suffix to the path.
	got, err := ProducerIDFromLockKey([]byte(path + "/694d7e1a2b3c4d5e"))
	if err != nil {
		t.Fatalf("ProducerIDFromLockKey: %v", err)
	}
	if got != pid {
		t.Fatalf("expected %s, got %s", pid, got)
	}
	// A bare key without the lease suffix parses too.
	got, err = ProducerIDFromLockKey([]byte(path))
	if err != nil {
		t.Fatalf("ProducerIDFromLockKey: %v", err)
	}
	if got != pid {
		t.Fatalf("expected %s, got %s", pid, got)
	}
}

func TestProducerIDFromLockKeyRejectsForeignKeys(t *testing.T) {
	t.Parallel()
	if _, err := ProducerIDFromLockKey([]byte("some/other/key")); err == nil {
		t.Fatal("expected error for key outside prefix")
	}
	if _, err := ProducerIDFromLockKey([]byte(LockPrefix + "zz-not-hex/1")); err == nil {
		t.Fatal("expected error for malformed id segment")
	}
	if _, err := ProducerIDFromLockKey([]byte(LockPrefix + "abcd/1")); err == nil {
		t.Fatal("expected error for oversized id segment")
	}
}
