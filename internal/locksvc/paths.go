// v1
// internal/locksvc/paths.go
package locksvc

import (
	"fmt"
	"strings"

	"chainsink/internal/types"
)

// LockPrefix is the etcd key space holding producer locks. Each held lock
// lives at <prefix><producer-id-hex>/<lease-id>, the lease suffix being
// appended by the lock recipe.
const LockPrefix = "chainsink/producer_lock/v1/"

// ProducerLockPath returns the lock key prefix for one producer.
func ProducerLockPath(id types.ProducerID) string {
	return LockPrefix + id.String()
}

// ProducerIDFromLockKey recovers the producer id from a held lock key.
func ProducerIDFromLockKey(key []byte) (types.ProducerID, error) {
	k := string(key)
	if !strings.HasPrefix(k, LockPrefix) {
		return types.ProducerID{}, fmt.Errorf("lock key %q outside prefix %q", k, LockPrefix)
	}
	rest := strings.TrimPrefix(k, LockPrefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if len(rest) != 2 {
		return types.ProducerID{}, fmt.Errorf("malformed producer lock key %q", k)
	}
	var b byte
	if _, err := fmt.Sscanf(rest, "%02x", &b); err != nil {
		return types.ProducerID{}, fmt.Errorf("malformed producer lock key %q: %w", k, err)
	}
	return types.ProducerID{b}, nil
}
