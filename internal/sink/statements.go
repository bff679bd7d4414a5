// v2
// internal/sink/statements.go
package sink

const insertProducerSlot = `
	INSERT INTO producer_slot_seen (producer_id, slot, shard_offset_map, created_at)
	VALUES (?, ?, ?, currentTimestamp())`

const insertInitialProducerLock = `
	INSERT INTO producer_lock (producer_id, ifname, ipv4, is_ready, minimum_shard_offset, execution_id, revision, created_at)
	VALUES (?, ?, ?, false, null, ?, ?, currentTimestamp())
	IF NOT EXISTS`

// reclaimProducerLock takes over a lock row left behind by a previous
// execution. Safe only while holding the etcd lock for the same producer.
const reclaimProducerLock = `
	UPDATE producer_lock
	SET ifname = ?, ipv4 = ?, is_ready = false, minimum_shard_offset = null, execution_id = ?, revision = ?
	WHERE producer_id = ?
	IF EXISTS`

const updateProducerLockReady = `
	UPDATE producer_lock
	SET minimum_shard_offset = ?, is_ready = true
	WHERE producer_id = ?
	IF EXISTS`

const releaseProducerLock = `
	UPDATE producer_lock
	SET is_ready = false
	WHERE producer_id = ?
	IF EXISTS`

const insertProducerInfoLegacyStmt = `
	INSERT INTO producer_info (producer_id, commitment_level, num_shards, created_at, updated_at)
	VALUES (?, ?, ?, currentTimestamp(), currentTimestamp())
	IF NOT EXISTS`

const commitShardPeriod = `
	INSERT INTO producer_period_commit_log (producer_id, shard_id, period, created_at)
	VALUES (?, ?, ?, currentTimestamp())`

const queryLastPeriodCommit = `
	SELECT shard_id, period
	FROM producer_period_commit_log
	WHERE producer_id = ?
	AND shard_id IN ?
	ORDER BY period DESC
	PER PARTITION LIMIT 1`

const queryMaxOffsetForShardPeriod = `
	SELECT offset, slot
	FROM log
	WHERE producer_id = ?
	AND shard_id = ?
	AND period = ?
	ORDER BY offset DESC
	PER PARTITION LIMIT 1`

const insertBlockchainEvent = `
	INSERT INTO log (
		shard_id,
		period,
		producer_id,
		offset,
		slot,
		event_type,
		pubkey,
		lamports,
		owner,
		executable,
		rent_epoch,
		write_version,
		data,
		txn_signature,
		signature,
		signatures,
		num_readonly_signed_accounts,
		num_readonly_unsigned_accounts,
		num_required_signatures,
		account_keys,
		recent_blockhash,
		instructions,
		versioned,
		address_table_lookups,
		meta,
		is_vote,
		tx_index,
		created_at
	)
	VALUES (?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, currentTimestamp())`
