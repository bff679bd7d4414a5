// v1
// internal/queries/seek.go
package queries

import "chainsink/internal/types"

// SeekKind enumerates where a consumer wants to start reading.
type SeekKind int8

const (
	SeekEarliest SeekKind = iota
	SeekLatest
	SeekSlotApprox
)

// SeekLocation is a consumer seek request. SlotApprox carries the desired
// slot plus the lowest acceptable one.
type SeekLocation struct {
	Kind        SeekKind
	DesiredSlot types.Slot
	MinSlot     types.Slot
}

func Earliest() SeekLocation { return SeekLocation{Kind: SeekEarliest} }
func Latest() SeekLocation   { return SeekLocation{Kind: SeekLatest} }

func SlotApprox(desired, min types.Slot) SeekLocation {
	return SeekLocation{Kind: SeekSlotApprox, DesiredSlot: desired, MinSlot: min}
}

// SlotRange is an inclusive slot interval.
type SlotRange struct {
	Start types.Slot
	End   types.Slot
}
