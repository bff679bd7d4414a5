// v3
// internal/types/types.go
// Package types holds the identifiers and event shapes shared by the write
// path and the consumer-facing query layer.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// ShardOffsetModulo is the period size: every ShardOffsetModulo offsets a
// shard crosses into a new period and a period-commit marker is written.
const ShardOffsetModulo int64 = 10000

// UndefinedSlot marks an offset recovered without a known blockchain slot.
const UndefinedSlot Slot = -1

type (
	// ShardID identifies one ordered lane within a producer's output.
	ShardID int16
	// ShardOffset is the per-(producer, shard) monotonically increasing sequence number.
	ShardOffset int64
	// ShardPeriod is ShardOffset / ShardOffsetModulo.
	ShardPeriod int64
	// Slot is the external blockchain slot number.
	Slot int64
)

// Period returns the period the offset belongs to.
func (o ShardOffset) Period() ShardPeriod {
	return ShardPeriod(int64(o) / ShardOffsetModulo)
}

// ProducerID is a one-octet producer tag. The etcd lock key and every table
// partition key embed it.
type ProducerID [1]byte

func (p ProducerID) Bytes() []byte  { return []byte{p[0]} }
func (p ProducerID) String() string { return hex.EncodeToString(p[:]) }

// ProducerIDFromBytes rebuilds a ProducerID from a stored blob.
func ProducerIDFromBytes(b []byte) (ProducerID, error) {
	if len(b) != 1 {
		return ProducerID{}, fmt.Errorf("producer id must be exactly one byte, got %d", len(b))
	}
	return ProducerID{b[0]}, nil
}

// ProducerIDFromUUID derives the one-byte producer tag from a configured UUID
// string, taking its first byte.
func ProducerIDFromUUID(s string) (ProducerID, error) {
	raw, err := uuid.ParseUUID(strings.TrimSpace(s))
	if err != nil {
		return ProducerID{}, fmt.Errorf("parse producer uuid: %w", err)
	}
	return ProducerID{raw[0]}, nil
}

// NewProducerID generates a fresh producer tag from a random UUID.
func NewProducerID() (ProducerID, error) {
	raw, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return ProducerID{}, err
	}
	return ProducerID{raw[0]}, nil
}

// ExecutionID identifies one lock acquisition episode of a producer.
type ExecutionID []byte

// NewExecutionID generates a random execution id.
func NewExecutionID() (ExecutionID, error) {
	raw, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return nil, err
	}
	return ExecutionID(raw), nil
}

// CommitmentLevel labels how finalized the observed events are.
type CommitmentLevel int16

const (
	CommitmentProcessed CommitmentLevel = iota
	CommitmentConfirmed
	CommitmentFinalized
)

func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("commitment(%d)", int16(c))
	}
}

// ParseCommitmentLevel parses the textual form used in properties files.
func ParseCommitmentLevel(s string) (CommitmentLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed":
		return CommitmentProcessed, nil
	case "confirmed":
		return CommitmentConfirmed, nil
	case "finalized":
		return CommitmentFinalized, nil
	default:
		return 0, fmt.Errorf("unknown commitment level %q", s)
	}
}

// OffsetSlot pairs a shard offset with the slot it was observed at.
type OffsetSlot struct {
	Offset ShardOffset
	Slot   Slot
}

// ProducerInfo mirrors one row of producer_info. Inserted once per producer
// identity, immutable thereafter.
type ProducerInfo struct {
	ProducerID      ProducerID
	CommitmentLevel CommitmentLevel
	NumShards       int16
}
