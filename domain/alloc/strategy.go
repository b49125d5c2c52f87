package alloc

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"shmpool/domain/usage"
)

// Strategy decides how the region is partitioned into independently
// locked arenas and which arena serves a request. It is chosen once at
// configuration time and fixed for the life of the region.
type Strategy interface {
	Name() string
	Shards() int
	ShardForSize(size uint64) int
}

// Simple keeps the whole region in one arena behind one lock.
type Simple struct{}

func (Simple) Name() string            { return "simple" }
func (Simple) Shards() int             { return 1 }
func (Simple) ShardForSize(uint64) int { return 0 }

// MaxShards bounds the sharded strategy.
const MaxShards = 256

// Sharded splits the region into N equal arenas, each with its own
// lock. A request goes to the arena picked by hashing its size class,
// so every request of a class contends on the same lock and the usage
// bucket of that class is only written under it. Frees go to the arena
// owning the address.
type Sharded struct {
	N int
}

func (s Sharded) Name() string { return "sharded" }
func (s Sharded) Shards() int  { return s.N }

func (s Sharded) ShardForSize(size uint64) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(usage.ClassOf(size)))
	return int(xxhash.Sum64(b[:]) % uint64(s.N))
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string, shards int) (Strategy, error) {
	switch name {
	case "", "simple":
		return Simple{}, nil
	case "sharded":
		if shards < 1 || shards > MaxShards {
			return nil, errors.Errorf("alloc: shard count %d out of range [1, %d]", shards, MaxShards)
		}
		return Sharded{N: shards}, nil
	default:
		return nil, errors.Errorf("alloc: unknown strategy %q", name)
	}
}
