// v5
// internal/queries/producer_queries.go
// Package queries is the consumer-group read side: enumerate living
// producers, pick the least loaded one and translate seek locations into
// concrete shard offsets. Reads go through the shared session, which sets
// serial consistency on every statement; that setting only affects
// conditional statements, so these plain reads run at the session's quorum
// consistency.
package queries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"chainsink/internal/locksvc"
	"chainsink/internal/scylla"
	"chainsink/internal/sink"
	"chainsink/internal/types"
)

// DefaultHeartbeatDelta is the liveness window for list_producers_heartbeat.
const DefaultHeartbeatDelta = 10 * time.Second

const getShardOffsetAtSlotApprox = `
	SELECT revision, shard_offset_map, slot
	FROM producer_slot_seen
	WHERE producer_id = ?
	AND slot <= ?
	AND slot >= ?
	ORDER BY slot DESC
	LIMIT 1`

const getProducersConsumerCount = `
	SELECT producer_id, count(1) AS consumer_count
	FROM producer_consumer_mapping_mv
	GROUP BY producer_id`

const listProducerLocksStmt = `
	SELECT producer_id, execution_id, revision, ipv4, minimum_shard_offset
	FROM producer_lock
	WHERE is_ready = true
	ALLOW FILTERING`

const listProducerWithCommitmentLevelStmt = `
	SELECT producer_id
	FROM producer_info
	WHERE commitment_level = ?
	ALLOW FILTERING`

// Partition data is clustered by slot descending, so a per-partition limit
// of one returns the most recent heartbeat for each producer.
const listProducerLastHeartbeat = `
	SELECT producer_id, created_at
	FROM producer_slot_seen
	PER PARTITION LIMIT 1`

const getProducerInfoByID = `
	SELECT producer_id, commitment_level, num_shards
	FROM producer_info
	WHERE producer_id = ?`

const getMinProducerOffset = `
	SELECT revision, minimum_shard_offset
	FROM producer_lock
	WHERE producer_id = ?`

const getProducerExecutionID = `
	SELECT execution_id, revision
	FROM producer_lock
	WHERE producer_id = ?
	PER PARTITION LIMIT 1`

// etcdKV is the slice of the etcd client the query layer needs; clientv3.KV
// satisfies it.
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// ProducerExecutionInfo is one ready producer lock row.
type ProducerExecutionInfo struct {
	ProducerID         types.ProducerID
	ExecutionID        types.ExecutionID
	Revision           int64
	IPv4               string
	MinimumShardOffset map[types.ShardID]types.OffsetSlot
}

// ProducerQueries answers consumer-group selection and seek requests.
type ProducerQueries struct {
	db  scylla.DB
	kv  etcdKV
	log *slog.Logger
}

func NewProducerQueries(db scylla.DB, kv clientv3.KV, log *slog.Logger) *ProducerQueries {
	return newProducerQueries(db, kv, log)
}

func newProducerQueries(db scylla.DB, kv etcdKV, log *slog.Logger) *ProducerQueries {
	return &ProducerQueries{db: db, kv: kv, log: log.With("component", "producer_queries")}
}

// ListProducerLocks returns every ready lock row keyed by producer id.
func (q *ProducerQueries) ListProducerLocks(ctx context.Context) (map[types.ProducerID]ProducerExecutionInfo, error) {
	rows, err := q.db.SelectMaps(ctx, listProducerLocksStmt)
	if err != nil {
		return nil, fmt.Errorf("list producer locks: %w", err)
	}
	out := make(map[types.ProducerID]ProducerExecutionInfo, len(rows))
	for _, row := range rows {
		info, err := decodeLockRow(row)
		if err != nil {
			return nil, err
		}
		out[info.ProducerID] = info
	}
	return out, nil
}

// ListLivingProducers joins the ready lock rows with the currently-held etcd
// locks. Only entries whose stored revision equals the etcd mod revision
// survive: that is the fencing check excluding stale rows.
func (q *ProducerQueries) ListLivingProducers(ctx context.Context) (map[types.ProducerID]ProducerExecutionInfo, error) {
	locks, err := q.ListProducerLocks(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := q.kv.Get(ctx, locksvc.LockPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list etcd producer locks: %w", err)
	}
	held := make(map[types.ProducerID]int64, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		pid, err := locksvc.ProducerIDFromLockKey(kv.Key)
		if err != nil {
			return nil, err
		}
		held[pid] = kv.ModRevision
	}
	for pid, info := range locks {
		rev, ok := held[pid]
		if !ok || rev != info.Revision {
			delete(locks, pid)
		}
	}
	return locks, nil
}

// GetProducerInfo fetches the immutable identity row, or ErrProducerNotFound.
func (q *ProducerQueries) GetProducerInfo(ctx context.Context, producerID types.ProducerID) (types.ProducerInfo, error) {
	row, err := q.db.SelectOneMap(ctx, getProducerInfoByID, producerID.Bytes())
	if errors.Is(err, scylla.ErrNotFound) {
		return types.ProducerInfo{}, ErrProducerNotFound
	}
	if err != nil {
		return types.ProducerInfo{}, fmt.Errorf("get producer info: %w", err)
	}
	level, _ := scylla.AsInt16(row["commitment_level"])
	numShards, _ := scylla.AsInt16(row["num_shards"])
	return types.ProducerInfo{
		ProducerID:      producerID,
		CommitmentLevel: types.CommitmentLevel(level),
		NumShards:       numShards,
	}, nil
}

// ListProducerWithSlot returns the distinct producers having observed any
// slot in the inclusive range.
func (q *ProducerQueries) ListProducerWithSlot(ctx context.Context, slotRange SlotRange) ([]types.ProducerID, error) {
	if slotRange.End < slotRange.Start {
		return nil, fmt.Errorf("invalid slot range %d..=%d", slotRange.Start, slotRange.End)
	}
	var b strings.Builder
	for slot := slotRange.Start; slot <= slotRange.End; slot++ {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(int64(slot), 10))
	}
	query := fmt.Sprintf(`
		SELECT producer_id, slot
		FROM slot_producer_seen_mv
		WHERE slot IN (%s)`, b.String())

	rows, err := q.db.SelectMaps(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list producers with slot: %w", err)
	}
	seen := make(map[types.ProducerID]struct{}, len(rows))
	for _, row := range rows {
		pid, err := decodeProducerID(row["producer_id"])
		if err != nil {
			return nil, err
		}
		seen[pid] = struct{}{}
	}
	return sortedProducerIDs(seen), nil
}

// ListProducerWithCommitmentLevel scans producer_info for the level.
func (q *ProducerQueries) ListProducerWithCommitmentLevel(ctx context.Context, level types.CommitmentLevel) ([]types.ProducerID, error) {
	rows, err := q.db.SelectMaps(ctx, listProducerWithCommitmentLevelStmt, int16(level))
	if err != nil {
		return nil, fmt.Errorf("list producers with commitment level: %w", err)
	}
	out := make([]types.ProducerID, 0, len(rows))
	for _, row := range rows {
		pid, err := decodeProducerID(row["producer_id"])
		if err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

// ListProducersHeartbeat keeps producers whose most recent slot observation
// is within delta of now.
func (q *ProducerQueries) ListProducersHeartbeat(ctx context.Context, delta time.Duration) ([]types.ProducerID, error) {
	lowerBound := time.Now().UTC().Add(-delta)
	rows, err := q.db.SelectMaps(ctx, listProducerLastHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("list producer heartbeats: %w", err)
	}
	var out []types.ProducerID
	for _, row := range rows {
		createdAt, ok := scylla.AsTime(row["created_at"])
		if !ok || createdAt.Before(lowerBound) {
			continue
		}
		pid, err := decodeProducerID(row["producer_id"])
		if err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

// GetProducerIDWithLeastAssignedConsumer picks the living producer at the
// requested commitment level (optionally covering a slot range) with the
// fewest assigned consumers, tie-breaking on producer id.
func (q *ProducerQueries) GetProducerIDWithLeastAssignedConsumer(ctx context.Context, slotRange *SlotRange, level types.CommitmentLevel) (types.ProducerID, types.ExecutionID, error) {
	living, err := q.ListLivingProducers(ctx)
	if err != nil {
		return types.ProducerID{}, nil, err
	}
	q.log.Info("living_producers", "count", len(living))
	if len(living) == 0 {
		return types.ProducerID{}, nil, ErrNoActiveProducer
	}

	withLevel, err := q.ListProducerWithCommitmentLevel(ctx, level)
	if err != nil {
		return types.ProducerID{}, nil, err
	}
	q.log.Info("producers_with_commitment_level", "level", level.String(), "count", len(withLevel))
	if len(withLevel) == 0 {
		return types.ProducerID{}, nil, ImpossibleCommitmentLevelError{Level: level}
	}

	eligible := make(map[types.ProducerID]types.ExecutionID)
	for _, pid := range withLevel {
		if info, ok := living[pid]; ok {
			eligible[pid] = info.ExecutionID
		}
	}
	if len(eligible) == 0 {
		return types.ProducerID{}, nil, ErrImpossibleTimelineSelection
	}

	if slotRange != nil {
		q.log.Info("producer_needs_slot_range", "start", int64(slotRange.Start), "end", int64(slotRange.End))
		withSlot, err := q.ListProducerWithSlot(ctx, *slotRange)
		if err != nil {
			return types.ProducerID{}, nil, err
		}
		covering := make(map[types.ProducerID]struct{}, len(withSlot))
		for _, pid := range withSlot {
			covering[pid] = struct{}{}
		}
		for pid := range eligible {
			if _, ok := covering[pid]; !ok {
				delete(eligible, pid)
			}
		}
		if len(eligible) == 0 {
			return types.ProducerID{}, nil, ImpossibleSlotOffsetError{Slot: slotRange.End}
		}
	}
	q.log.Info("eligible_producers", "count", len(eligible))

	counts, err := q.consumerCounts(ctx)
	if err != nil {
		return types.ProducerID{}, nil, err
	}

	ids := make([]types.ProducerID, 0, len(eligible))
	for pid := range eligible {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i][0] < ids[j][0] })
	best := ids[0]
	for _, pid := range ids[1:] {
		if counts[pid] < counts[best] {
			best = pid
		}
	}
	return best, eligible[best], nil
}

func (q *ProducerQueries) consumerCounts(ctx context.Context) (map[types.ProducerID]int64, error) {
	rows, err := q.db.SelectMaps(ctx, getProducersConsumerCount)
	if err != nil {
		return nil, fmt.Errorf("consumer counts: %w", err)
	}
	out := make(map[types.ProducerID]int64, len(rows))
	for _, row := range rows {
		pid, err := decodeProducerID(row["producer_id"])
		if err != nil {
			return nil, err
		}
		n, _ := scylla.AsInt64(row["consumer_count"])
		out[pid] = n
	}
	return out, nil
}

// GetMinOffsetForProducer reads the minimum shard offsets from the lock row,
// fencing against maxRevision when supplied.
func (q *ProducerQueries) GetMinOffsetForProducer(ctx context.Context, producerID types.ProducerID, maxRevision *int64) (map[types.ShardID]types.OffsetSlot, error) {
	row, err := q.db.SelectOneMap(ctx, getMinProducerOffset, producerID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("get min producer offset: %w", err)
	}
	remoteRevision, _ := scylla.AsInt64(row["revision"])
	if maxRevision != nil && *maxRevision < remoteRevision {
		return nil, StaleRevisionError{MaxRevision: *maxRevision}
	}
	offsets, err := decodeShardOffsetSlotMap(row["minimum_shard_offset"])
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		return nil, errors.New("producer lock exists, but its minimum shard offset is not set")
	}
	return offsets, nil
}

// GetExecutionID returns the lock row's current (revision, execution id).
func (q *ProducerQueries) GetExecutionID(ctx context.Context, producerID types.ProducerID) (int64, types.ExecutionID, error) {
	row, err := q.db.SelectOneMap(ctx, getProducerExecutionID, producerID.Bytes())
	if err != nil {
		return 0, nil, fmt.Errorf("get execution id: %w", err)
	}
	revision, _ := scylla.AsInt64(row["revision"])
	execID, _ := scylla.AsBytes(row["execution_id"])
	return revision, types.ExecutionID(execID), nil
}

// GetSlotShardOffsets finds the greatest observed slot within
// [minSlot, desiredSlot] and returns its shard offset snapshot. The bool is
// false when no observation falls in the range.
func (q *ProducerQueries) GetSlotShardOffsets(ctx context.Context, desiredSlot, minSlot types.Slot, producerID types.ProducerID, maxRevision *int64) (map[types.ShardID]types.OffsetSlot, bool, error) {
	row, err := q.db.SelectOneMap(ctx, getShardOffsetAtSlotApprox, producerID.Bytes(), int64(desiredSlot), int64(minSlot))
	if errors.Is(err, scylla.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slot shard offsets: %w", err)
	}
	q.log.Info("slot_offsets_found", "producer", producerID.String(), "min_slot", int64(minSlot), "desired_slot", int64(desiredSlot))
	remoteRevision, _ := scylla.AsInt64(row["revision"])
	if maxRevision != nil && *maxRevision < remoteRevision {
		return nil, false, StaleRevisionError{MaxRevision: *maxRevision}
	}
	slotApprox, _ := scylla.AsInt64(row["slot"])
	pairs, err := decodeShardOffsetMap(row["shard_offset_map"], types.Slot(slotApprox))
	if err != nil {
		return nil, false, err
	}
	return pairs, true, nil
}

// ComputeOffset resolves a seek location into one (offset, slot) pair per
// shard. Earliest and SlotApprox subtract one from every offset: the
// consumer convention is "next offset to read".
func (q *ProducerQueries) ComputeOffset(ctx context.Context, producerID types.ProducerID, seek SeekLocation, maxRevision *int64) (map[types.ShardID]types.OffsetSlot, error) {
	info, err := q.GetProducerInfo(ctx, producerID)
	if err != nil {
		return nil, err
	}

	var pairs map[types.ShardID]types.OffsetSlot
	switch seek.Kind {
	case SeekLatest:
		pairs, err = sink.GetMaxShardOffsetsForProducer(ctx, q.db, producerID, int(info.NumShards))
		if err != nil {
			return nil, err
		}
	case SeekEarliest:
		pairs, err = q.GetMinOffsetForProducer(ctx, producerID, maxRevision)
		if err != nil {
			return nil, err
		}
	case SeekSlotApprox:
		minimum, err := q.GetMinOffsetForProducer(ctx, producerID, maxRevision)
		if err != nil {
			return nil, err
		}
		atSlot, found, err := q.GetSlotShardOffsets(ctx, seek.DesiredSlot, seek.MinSlot, producerID, maxRevision)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ImpossibleSlotOffsetError{Slot: seek.DesiredSlot}
		}
		for shardID, pair := range atSlot {
			minPair, ok := minimum[shardID]
			if !ok || pair.Offset <= minPair.Offset {
				return nil, ImpossibleSlotOffsetError{Slot: seek.DesiredSlot}
			}
		}
		pairs = atSlot
	default:
		return nil, fmt.Errorf("unknown seek kind %d", seek.Kind)
	}

	if seek.Kind == SeekEarliest || seek.Kind == SeekSlotApprox {
		for shardID, pair := range pairs {
			pair.Offset--
			pairs[shardID] = pair
		}
	}
	if len(pairs) != int(info.NumShards) {
		return nil, fmt.Errorf("mismatch producer num shards (%d) and computed shard offsets (%d)", info.NumShards, len(pairs))
	}
	return pairs, nil
}

func sortedProducerIDs(set map[types.ProducerID]struct{}) []types.ProducerID {
	out := make([]types.ProducerID, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func decodeProducerID(v any) (types.ProducerID, error) {
	raw, ok := scylla.AsBytes(v)
	if !ok {
		return types.ProducerID{}, fmt.Errorf("unreadable producer_id column %T", v)
	}
	return types.ProducerIDFromBytes(raw)
}

func decodeLockRow(row map[string]any) (ProducerExecutionInfo, error) {
	pid, err := decodeProducerID(row["producer_id"])
	if err != nil {
		return ProducerExecutionInfo{}, err
	}
	revision, _ := scylla.AsInt64(row["revision"])
	execID, _ := scylla.AsBytes(row["execution_id"])
	ipv4, _ := row["ipv4"].(string)
	minimum, err := decodeShardOffsetSlotMap(row["minimum_shard_offset"])
	if err != nil {
		return ProducerExecutionInfo{}, err
	}
	return ProducerExecutionInfo{
		ProducerID:         pid,
		ExecutionID:        types.ExecutionID(execID),
		Revision:           revision,
		IPv4:               ipv4,
		MinimumShardOffset: minimum,
	}, nil
}

// decodeShardOffsetSlotMap reads a minimum_shard_offset column: a map of
// shard id to (offset, slot) tuple. A nil column decodes to an empty map.
func decodeShardOffsetSlotMap(v any) (map[types.ShardID]types.OffsetSlot, error) {
	if v == nil {
		return map[types.ShardID]types.OffsetSlot{}, nil
	}
	switch m := v.(type) {
	case map[int16][]int64:
		out := make(map[types.ShardID]types.OffsetSlot, len(m))
		for shardID, tuple := range m {
			if len(tuple) != 2 {
				return nil, fmt.Errorf("shard %d: malformed offset tuple of %d elements", shardID, len(tuple))
			}
			out[types.ShardID(shardID)] = types.OffsetSlot{Offset: types.ShardOffset(tuple[0]), Slot: types.Slot(tuple[1])}
		}
		return out, nil
	case map[int16][]any:
		out := make(map[types.ShardID]types.OffsetSlot, len(m))
		for shardID, tuple := range m {
			if len(tuple) != 2 {
				return nil, fmt.Errorf("shard %d: malformed offset tuple of %d elements", shardID, len(tuple))
			}
			offset, ok1 := scylla.AsInt64(tuple[0])
			slot, ok2 := scylla.AsInt64(tuple[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("shard %d: unreadable offset tuple", shardID)
			}
			out[types.ShardID(shardID)] = types.OffsetSlot{Offset: types.ShardOffset(offset), Slot: types.Slot(slot)}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unreadable minimum_shard_offset column %T", v)
	}
}

// decodeShardOffsetMap reads a shard_offset_map column (shard id to offset)
// and stamps every entry with the row's slot.
func decodeShardOffsetMap(v any, slot types.Slot) (map[types.ShardID]types.OffsetSlot, error) {
	m, ok := v.(map[int16]int64)
	if !ok {
		return nil, fmt.Errorf("unreadable shard_offset_map column %T", v)
	}
	out := make(map[types.ShardID]types.OffsetSlot, len(m))
	for shardID, offset := range m {
		out[types.ShardID(shardID)] = types.OffsetSlot{Offset: types.ShardOffset(offset), Slot: slot}
	}
	return out, nil
}
