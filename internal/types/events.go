// v2
// internal/types/events.go
package types

// EventType discriminates the two halves of the blockchain event union.
type EventType int8

const (
	EventAccountUpdate EventType = 0
	EventTransaction   EventType = 1
)

// AccountUpdate is an account-state change observed on chain.
type AccountUpdate struct {
	Slot         Slot
	Pubkey       []byte
	Lamports     int64
	Owner        []byte
	Executable   bool
	RentEpoch    int64
	WriteVersion int64
	Data         []byte
	TxnSignature []byte
}

// Transaction is a confirmed transaction observed on chain.
type Transaction struct {
	Slot                        Slot
	Signature                   []byte
	Signatures                  [][]byte
	NumReadonlySignedAccounts   int16
	NumReadonlyUnsignedAccounts int16
	NumRequiredSignatures       int16
	AccountKeys                 [][]byte
	RecentBlockhash             []byte
	Instructions                []byte
	Versioned                   bool
	AddressTableLookups         []byte
	Meta                        []byte
	IsVote                      bool
	TxIndex                     int64
}

// BlockchainEvent is the union of AccountUpdate and Transaction, stamped on
// enqueue with the (shard, producer, offset) coordinates it will be stored at.
type BlockchainEvent struct {
	ShardID    ShardID
	Period     ShardPeriod
	ProducerID ProducerID
	Offset     ShardOffset
	Slot       Slot
	EventType  EventType

	// Account update half.
	Pubkey       []byte
	Lamports     int64
	Owner        []byte
	Executable   bool
	RentEpoch    int64
	WriteVersion int64
	Data         []byte
	TxnSignature []byte

	// Transaction half.
	Signature                   []byte
	Signatures                  [][]byte
	NumReadonlySignedAccounts   int16
	NumReadonlyUnsignedAccounts int16
	NumRequiredSignatures       int16
	AccountKeys                 [][]byte
	RecentBlockhash             []byte
	Instructions                []byte
	Versioned                   bool
	AddressTableLookups         []byte
	Meta                        []byte
	IsVote                      bool
	TxIndex                     int64
}

// AsBlockchainEvent stamps the update with its storage coordinates.
func (a AccountUpdate) AsBlockchainEvent(shardID ShardID, producerID ProducerID, offset ShardOffset) BlockchainEvent {
	return BlockchainEvent{
		ShardID:      shardID,
		Period:       offset.Period(),
		ProducerID:   producerID,
		Offset:       offset,
		Slot:         a.Slot,
		EventType:    EventAccountUpdate,
		Pubkey:       a.Pubkey,
		Lamports:     a.Lamports,
		Owner:        a.Owner,
		Executable:   a.Executable,
		RentEpoch:    a.RentEpoch,
		WriteVersion: a.WriteVersion,
		Data:         a.Data,
		TxnSignature: a.TxnSignature,
	}
}

// AsBlockchainEvent stamps the transaction with its storage coordinates.
func (t Transaction) AsBlockchainEvent(shardID ShardID, producerID ProducerID, offset ShardOffset) BlockchainEvent {
	return BlockchainEvent{
		ShardID:                     shardID,
		Period:                      offset.Period(),
		ProducerID:                  producerID,
		Offset:                      offset,
		Slot:                        t.Slot,
		EventType:                   EventTransaction,
		Signature:                   t.Signature,
		Signatures:                  t.Signatures,
		NumReadonlySignedAccounts:   t.NumReadonlySignedAccounts,
		NumReadonlyUnsignedAccounts: t.NumReadonlyUnsignedAccounts,
		NumRequiredSignatures:       t.NumRequiredSignatures,
		AccountKeys:                 t.AccountKeys,
		RecentBlockhash:             t.RecentBlockhash,
		Instructions:                t.Instructions,
		Versioned:                   t.Versioned,
		AddressTableLookups:         t.AddressTableLookups,
		Meta:                        t.Meta,
		IsVote:                      t.IsVote,
		TxIndex:                     t.TxIndex,
	}
}

const eventFixedOverhead = 64

// ByteSize approximates the wire size of the event for batch budgeting. Only
// variable-length columns are measured precisely; the fixed columns are a
// flat overhead.
func (e *BlockchainEvent) ByteSize() int {
	n := eventFixedOverhead
	n += len(e.Pubkey) + len(e.Owner) + len(e.Data) + len(e.TxnSignature)
	n += len(e.Signature) + len(e.RecentBlockhash) + len(e.Instructions)
	n += len(e.AddressTableLookups) + len(e.Meta)
	for _, sig := range e.Signatures {
		n += len(sig)
	}
	for _, k := range e.AccountKeys {
		n += len(k)
	}
	return n
}
