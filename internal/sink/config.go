// v2
// internal/sink/config.go
package sink

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"chainsink/internal/types"
)

// Config carries the sink's runtime options.
type Config struct {
	// ProducerID is an optional UUID; when empty a fresh one is generated.
	ProducerID       string
	NumShards        int
	BatchLenLimit    int
	BatchSizeKBLimit int
	Linger           time.Duration
	Keyspace         string
	Ifname           string
	CommitmentLevel  types.CommitmentLevel
}

func DefaultConfig() Config {
	return Config{
		NumShards:        64,
		BatchLenLimit:    defaultShardMaxBufferCapacity,
		BatchSizeKBLimit: 128,
		Linger:           500 * time.Millisecond,
		Keyspace:         "chainsink",
		CommitmentLevel:  types.CommitmentProcessed,
	}
}

// MaxBufferByteSize is the shard flush threshold in bytes.
func (c Config) MaxBufferByteSize() int { return c.BatchSizeKBLimit * 1024 }

// LoadProps reads key=value properties, falling back to defaults for missing
// or malformed entries.
func LoadProps(path string) Config {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			slog.Error("close_failed", "path", path, "err", err)
		}
	}(f)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch k {
		case "producer_id":
			cfg.ProducerID = v
		case "num_shards":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.NumShards = n
			}
		case "batch_len_limit":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.BatchLenLimit = n
			}
		case "batch_size_kb_limit":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.BatchSizeKBLimit = n
			}
		case "linger_ms":
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				cfg.Linger = time.Duration(ms) * time.Millisecond
			}
		case "keyspace":
			cfg.Keyspace = v
		case "ifname":
			cfg.Ifname = v
		case "commitment_level":
			if cl, err := types.ParseCommitmentLevel(v); err == nil {
				cfg.CommitmentLevel = cl
			}
		}
	}
	return cfg
}
