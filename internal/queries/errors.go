// v1
// internal/queries/errors.go
package queries

import (
	"errors"
	"fmt"

	"chainsink/internal/types"
)

// Selection failures are reported to the calling consumer group; none of
// them is fatal to the sink.
var (
	ErrNoActiveProducer            = errors.New("no active producer")
	ErrImpossibleTimelineSelection = errors.New("impossible timeline selection")
	ErrProducerNotFound            = errors.New("producer does not exist")
)

// ImpossibleCommitmentLevelError reports that no producer serves the
// requested commitment level.
type ImpossibleCommitmentLevelError struct {
	Level types.CommitmentLevel
}

func (e ImpossibleCommitmentLevelError) Error() string {
	return fmt.Sprintf("no producer with commitment level %s", e.Level)
}

// ImpossibleSlotOffsetError reports that the requested slot cannot be served
// by any reachable shard offset.
type ImpossibleSlotOffsetError struct {
	Slot types.Slot
}

func (e ImpossibleSlotOffsetError) Error() string {
	return fmt.Sprintf("impossible slot offset %d", e.Slot)
}

// StaleRevisionError reports a caller-supplied revision older than the
// producer lock row's. Fencing: the operation must fail fast.
type StaleRevisionError struct {
	MaxRevision int64
}

func (e StaleRevisionError) Error() string {
	return fmt.Sprintf("stale revision %d", e.MaxRevision)
}
