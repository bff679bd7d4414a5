// v3
// internal/source/consumer.go
// Package source feeds the sink from a Kafka topic carrying JSON-encoded
// blockchain events. The sink itself is transport-agnostic; this adapter is
// the default way to drive it.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"chainsink/internal/types"
)

// EventSink is the slice of the sink facade the consumer needs.
type EventSink interface {
	LogAccountUpdate(ctx context.Context, update types.AccountUpdate) error
	LogTransaction(ctx context.Context, tx types.Transaction) error
}

// Config selects the topic to consume.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

const (
	eventTypeAccount     = "account_update"
	eventTypeTransaction = "transaction"
)

// envelope is the wire shape of one event message.
type envelope struct {
	Type    string           `json:"type"`
	Account *accountWire     `json:"account,omitempty"`
	Tx      *transactionWire `json:"transaction,omitempty"`
}

type accountWire struct {
	Slot         int64  `json:"slot"`
	Pubkey       []byte `json:"pubkey"`
	Lamports     int64  `json:"lamports"`
	Owner        []byte `json:"owner"`
	Executable   bool   `json:"executable"`
	RentEpoch    int64  `json:"rentEpoch"`
	WriteVersion int64  `json:"writeVersion"`
	Data         []byte `json:"data"`
	TxnSignature []byte `json:"txnSignature,omitempty"`
}

type transactionWire struct {
	Slot                        int64    `json:"slot"`
	Signature                   []byte   `json:"signature"`
	Signatures                  [][]byte `json:"signatures"`
	NumReadonlySignedAccounts   int16    `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts int16    `json:"numReadonlyUnsignedAccounts"`
	NumRequiredSignatures       int16    `json:"numRequiredSignatures"`
	AccountKeys                 [][]byte `json:"accountKeys"`
	RecentBlockhash             []byte   `json:"recentBlockhash"`
	Instructions                []byte   `json:"instructions"`
	Versioned                   bool     `json:"versioned"`
	AddressTableLookups         []byte   `json:"addressTableLookups,omitempty"`
	Meta                        []byte   `json:"meta"`
	IsVote                      bool     `json:"isVote"`
	TxIndex                     int64    `json:"txIndex"`
}

// Consumer pulls events off Kafka and pushes them into the sink, inheriting
// the sink's backpressure.
type Consumer struct {
	log  *slog.Logger
	cfg  Config
	sink EventSink
}

func NewConsumer(cfg Config, sink EventSink, log *slog.Logger) *Consumer {
	return &Consumer{
		log:  log.With("component", "source"),
		cfg:  cfg,
		sink: sink,
	}
}

// Run consumes until the context is cancelled or the sink refuses an event.
func (c *Consumer) Run(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    c.cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func(r *kafka.Reader) {
		if err := r.Close(); err != nil {
			c.log.Error("kafka_reader_close_err", "topic", c.cfg.Topic, "err", err)
		}
	}(reader)

	c.log.Info("source_start", "topic", c.cfg.Topic, "group", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.log.Info("source_stop")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handleMessage(ctx, msg.Value); err != nil {
			if errors.Is(err, errMalformed) {
				// A malformed event cannot be retried into shape; skip it.
				c.log.Error("invalid_event", "topic", c.cfg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			} else {
				return err
			}
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offsets: %w", err)
		}
	}
}

var errMalformed = errors.New("malformed event")

func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch env.Type {
	case eventTypeAccount:
		if env.Account == nil {
			return fmt.Errorf("%w: account event without payload", errMalformed)
		}
		return c.sink.LogAccountUpdate(ctx, env.Account.toAccountUpdate())
	case eventTypeTransaction:
		if env.Tx == nil {
			return fmt.Errorf("%w: transaction event without payload", errMalformed)
		}
		return c.sink.LogTransaction(ctx, env.Tx.toTransaction())
	default:
		return fmt.Errorf("%w: unknown event type %q", errMalformed, env.Type)
	}
}

func (a *accountWire) toAccountUpdate() types.AccountUpdate {
	return types.AccountUpdate{
		Slot:         types.Slot(a.Slot),
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

func (t *transactionWire) toTransaction() types.Transaction {
	return types.Transaction{
		Slot:                        types.Slot(t.Slot),
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
