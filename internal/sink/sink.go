// v4
// internal/sink/sink.go
// Package sink is the write-path engine: a single exclusively-locked producer
// fanning one event stream into N ordered shard pipelines backed by the log
// table.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"

	"chainsink/internal/locksvc"
	"chainsink/internal/netif"
	"chainsink/internal/scylla"
	"chainsink/internal/types"
)

// Sink is the producer facade. Events enqueue into the router and apply
// backpressure by blocking on mailbox capacity.
type Sink struct {
	log        *slog.Logger
	db         scylla.DB
	ownsDB     bool
	lock       locksvc.Lock
	plock      *producerLock
	router     *routerHandle
	producerID types.ProducerID
	ready      atomic.Bool
}

type lockFunc func(ctx context.Context, path string) (locksvc.Lock, error)

// deps are the external collaborators of the startup sequence. tryLock must
// be set; a nil resolveIface falls back to netif.Resolve. Tests substitute
// fakes.
type deps struct {
	tryLock      lockFunc
	resolveIface func(ifname string) (string, string, error)
}

// New connects to the database, acquires both layers of the producer lock,
// recovers per-shard offsets and starts the shard fleet plus router. Any
// failure aborts startup.
func New(ctx context.Context, cfg Config, dbCfg scylla.Config, etcd *clientv3.Client, initialSlot types.Slot, log *slog.Logger) (*Sink, error) {
	producerID, err := resolveProducerID(cfg.ProducerID)
	if err != nil {
		return nil, err
	}
	db, err := scylla.Connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect scylla: %w", err)
	}
	log.Info("scylla_session_ready", "hosts", dbCfg.Hosts, "keyspace", dbCfg.Keyspace)
	d := deps{
		tryLock: func(ctx context.Context, path string) (locksvc.Lock, error) {
			return locksvc.TryLock(ctx, etcd, path, log)
		},
	}
	s, err := newSink(ctx, db, d, cfg, producerID, initialSlot, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// newSink runs the startup sequence against an already-open database. Split
// out of New so tests can substitute fakes for both the database and the
// lock service.
func newSink(ctx context.Context, db scylla.DB, d deps, cfg Config, producerID types.ProducerID, initialSlot types.Slot, log *slog.Logger) (*Sink, error) {
	if cfg.NumShards <= 0 {
		return nil, fmt.Errorf("num_shards must be positive, got %d", cfg.NumShards)
	}
	if d.resolveIface == nil {
		d.resolveIface = netif.Resolve
	}

	if err := insertProducerInfo(ctx, db, producerID, cfg.CommitmentLevel, cfg.NumShards); err != nil {
		return nil, err
	}
	log.Info("producer_registered", "producer", producerID.String(), "commitment_level", cfg.CommitmentLevel.String())

	lock, err := d.tryLock(ctx, locksvc.ProducerLockPath(producerID))
	if err != nil {
		return nil, fmt.Errorf("acquire producer lock: %w", err)
	}

	ifname, ipv4, err := d.resolveIface(cfg.Ifname)
	if err != nil {
		_ = lock.Unlock(ctx)
		return nil, err
	}

	plock, err := loadProducerLockState(ctx, db, producerID, ifname, ipv4, lock, log)
	if err != nil {
		_ = lock.Unlock(ctx)
		return nil, err
	}
	log.Info("producer_lock_acquired", "producer", producerID.String(), "ifname", ifname, "ipv4", ipv4, "revision", lock.Revision())

	// Where the producer left off becomes the new earliest offset available
	// to consumers.
	shardOffsets, err := getMaxShardOffsets(ctx, db, producerID, cfg.NumShards)
	if err != nil {
		_ = lock.Unlock(ctx)
		return nil, err
	}
	if err := plock.setMinimumOffsets(ctx, shardOffsets, initialSlot); err != nil {
		_ = lock.Unlock(ctx)
		return nil, err
	}
	log.Info("shard_offsets_recovered", "shards", len(shardOffsets))

	handles := make([]*shardHandle, 0, cfg.NumShards)
	for shardID := types.ShardID(0); int(shardID) < cfg.NumShards; shardID++ {
		sh, err := newShard(
			db,
			log,
			shardID,
			producerID,
			shardOffsets[shardID]+1,
			cfg.BatchLenLimit,
			cfg.MaxBufferByteSize(),
			cfg.Linger,
		)
		if err != nil {
			_ = lock.Unlock(ctx)
			return nil, err
		}
		handles = append(handles, sh.intoDaemon())
	}
	router := spawnRoundRobin(db, log, producerID, handles)

	s := &Sink{
		log:        log.With("component", "sink"),
		db:         db,
		lock:       lock,
		plock:      plock,
		router:     router,
		producerID: producerID,
	}
	s.ready.Store(true)
	return s, nil
}

func resolveProducerID(configured string) (types.ProducerID, error) {
	if configured != "" {
		return types.ProducerIDFromUUID(configured)
	}
	return types.NewProducerID()
}

// LogAccountUpdate enqueues one account update. A routing failure means the
// sink is terminating.
func (s *Sink) LogAccountUpdate(ctx context.Context, update types.AccountUpdate) error {
	if err := s.router.send(ctx, shardCommand{kind: cmdInsertAccountUpdate, account: update}); err != nil {
		return fmt.Errorf("failed to route: %w", err)
	}
	return nil
}

// LogTransaction enqueues one transaction.
func (s *Sink) LogTransaction(ctx context.Context, tx types.Transaction) error {
	if err := s.router.send(ctx, shardCommand{kind: cmdInsertTransaction, tx: tx}); err != nil {
		return fmt.Errorf("failed to route: %w", err)
	}
	return nil
}

// ProducerID returns the identity this sink writes under.
func (s *Sink) ProducerID() types.ProducerID { return s.producerID }

// Ready reports whether startup completed and the sink is accepting events.
func (s *Sink) Ready() bool { return s.ready.Load() }

// LockDone fires when the etcd lease keepalive dies; the caller must treat
// that as fatal.
func (s *Sink) LockDone() <-chan struct{} { return s.lock.Done() }

// Shutdown drains the router and every shard, then releases both lock
// layers. Errors from any shard surface here.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.log.Warn("sink_shutdown_started")
	if err := s.router.send(ctx, shardCommand{kind: cmdShutdown}); err != nil {
		s.log.Error("router_closed_before_shutdown", "err", err)
	}
	err := s.router.join(ctx)
	if rerr := s.plock.release(ctx); rerr != nil {
		s.log.Error("producer_lock_release_err", "err", rerr)
		if err == nil {
			err = rerr
		}
	}
	if uerr := s.lock.Unlock(ctx); uerr != nil && err == nil {
		err = uerr
	}
	if s.ownsDB {
		s.db.Close()
	}
	s.log.Warn("sink_shutdown_done")
	return err
}
