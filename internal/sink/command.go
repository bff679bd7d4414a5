// v1
// internal/sink/command.go
package sink

import (
	"sync/atomic"

	"chainsink/internal/types"
)

type cmdKind int8

const (
	cmdShutdown cmdKind = iota
	cmdInsertAccountUpdate
	cmdInsertTransaction
)

// shardCommand is the typed message flowing client -> router -> shard.
// Shutdown travels the same path so the pipeline drains in order.
type shardCommand struct {
	kind    cmdKind
	account types.AccountUpdate
	tx      types.Transaction
}

func (c shardCommand) slot() types.Slot {
	switch c.kind {
	case cmdInsertAccountUpdate:
		return c.account.Slot
	case cmdInsertTransaction:
		return c.tx.Slot
	default:
		return types.UndefinedSlot
	}
}

// offsetWatch is the single-writer latest-value cell a shard publishes its
// last staged offset on. Readers only ever see the newest value.
type offsetWatch struct {
	v atomic.Int64
}

func newOffsetWatch(initial types.ShardOffset) *offsetWatch {
	w := &offsetWatch{}
	w.v.Store(int64(initial))
	return w
}

func (w *offsetWatch) publish(o types.ShardOffset) { w.v.Store(int64(o)) }

func (w *offsetWatch) last() types.ShardOffset { return types.ShardOffset(w.v.Load()) }
