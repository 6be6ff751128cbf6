// Package classify buckets an inbound request path into one of the
// sharded / global / enumerate / reserve / unknown categories the
// dispatcher needs to pick an upstream (or to self-handle).
package classify

import (
	"crypto/rand"
	"math/big"

	"github.com/swaptacular/swpt-apiproxy/internal/mode"
	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
)

// globalRandomRange is the spec-mandated [0, 10^9) range used to pick
// a pseudo-entity id for global-path load balancing. Preserved as
// documented in SPEC_FULL.md even though it skews distribution
// slightly relative to the full i64 space.
var globalRandomRange = big.NewInt(1_000_000_000)

// Result is what the classifier determined about one request path.
type Result struct {
	// ShardKey is set when the path matched a sharded or global
	// pattern and its id(s) parsed successfully.
	ShardKey    uint32
	HasKey      bool
	IsEnumerate bool
	IsReserve   bool
}

// Classify inspects path p under the given mode and reports how the
// dispatcher should treat it. IsReserve short-circuits everything
// else: a reserve path is handled locally and never carries a shard
// key. An unmatched or unparseable sharded path comes back with
// HasKey false, which the dispatcher turns into a 502.
func Classify(m mode.Mode, p string) (Result, error) {
	if m.ReservePath != "" && p == m.ReservePath {
		return Result{IsReserve: true}, nil
	}

	if ids, ok := matchShardedIDs(m, p); ok {
		key, ok := shardKeyFromIDs(ids)
		res := Result{ShardKey: key, HasKey: ok}
		if ok && m.EnumeratePath != nil && m.EnumeratePath.MatchString(p) {
			res.IsEnumerate = true
		}
		return res, nil
	}

	if m.GlobalPath != nil && m.GlobalPath.MatchString(p) {
		key, err := randomGlobalShardKey()
		if err != nil {
			return Result{}, err
		}
		return Result{ShardKey: key, HasKey: true}, nil
	}

	return Result{}, nil
}

// matchShardedIDs parses the sharded regex's captured id groups; ok is
// false both when the path doesn't match the pattern at all and when
// it matches but a captured id fails to parse (both degrade the
// request to "unknown" per spec §4.3).
func matchShardedIDs(m mode.Mode, p string) ([]int64, bool) {
	sub := m.ShardedPath.FindStringSubmatch(p)
	if sub == nil {
		return nil, false
	}

	ids := make([]int64, 0, len(sub)-1)
	for _, group := range sub[1:] {
		id, err := numeric.ParseI64(group)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func shardKeyFromIDs(ids []int64) (uint32, bool) {
	switch len(ids) {
	case 1:
		return numeric.ShardKey(ids[0]), true
	case 2:
		return numeric.ShardKey(ids[0], ids[1]), true
	default:
		return 0, false
	}
}

// randomGlobalShardKey draws a cryptographically random non-negative
// i64 in [0, 10^9) and derives its sharding key, load-balancing global
// requests uniformly across the trie.
func randomGlobalShardKey() (uint32, error) {
	n, err := rand.Int(rand.Reader, globalRandomRange)
	if err != nil {
		return 0, err
	}
	return numeric.ShardKey(n.Int64()), nil
}
