// Package serversconfig builds the immutable routing plane ("the
// current config") from a parsed set of routes and the raw config
// bytes they were read from: the trie, each server's minimum owned
// id, the cross-shard successor ordering, and the opaque version
// token used to detect reconfiguration mid-traversal.
package serversconfig

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
	"github.com/swaptacular/swpt-apiproxy/internal/routetrie"
)

// ServersConfig is immutable once constructed; a new one is built and
// atomically swapped in on every successful config reload.
type ServersConfig struct {
	trie *routetrie.Trie

	minIds         map[routespec.ServerURL]int64
	firstServerURL routespec.ServerURL
	successor      map[routespec.ServerURL]*routespec.ServerURL

	version string
}

// Match resolves a sharding key to its owning server.
func (c *ServersConfig) Match(key uint32) routespec.ServerURL {
	return c.trie.Match(key)
}

// MinID returns the smallest i64 id that shards to u under a
// single-id sharding key, per the §4.2 scan.
func (c *ServersConfig) MinID(u routespec.ServerURL) (int64, bool) {
	id, ok := c.minIds[u]
	return id, ok
}

// FirstServerURL is the server responsible for shardKey(MinI64), the
// head of the successor chain.
func (c *ServersConfig) FirstServerURL() routespec.ServerURL {
	return c.firstServerURL
}

// Successor returns the next server in the total order after u, or
// (zero value, false) if u is the last server in the chain.
func (c *ServersConfig) Successor(u routespec.ServerURL) (routespec.ServerURL, bool) {
	next, ok := c.successor[u]
	if !ok || next == nil {
		return "", false
	}
	return *next, true
}

// Version is the opaque hex-MD5 token of the raw config bytes this
// plane was built from.
func (c *ServersConfig) Version() string {
	return c.version
}

// Servers returns a copy of the minimum-id map, one entry per distinct
// upstream this plane routes to. Used only by the debug routes
// endpoint; request handling never needs the full server list.
func (c *ServersConfig) Servers() map[routespec.ServerURL]int64 {
	out := make(map[routespec.ServerURL]int64, len(c.minIds))
	for u, id := range c.minIds {
		out[u] = id
	}
	return out
}

// Build constructs a ServersConfig from parsed routes and the raw
// config-file bytes they came from, per spec §4.2:
//  1. build and validate the trie;
//  2. scan i from MinI64 upward recording each server's minimum id,
//     along with the very first server encountered;
//  3. derive the successor chain: firstServerURL, then the remaining
//     URLs in ascending string order, terminated by "no successor";
//  4. hash the raw bytes for the version token.
func Build(routes []routespec.Route, raw []byte) (*ServersConfig, error) {
	trie, err := routetrie.Build(routes)
	if err != nil {
		return nil, err
	}

	urls := distinctURLs(routes)
	minIds, first, err := scanMinIDs(trie, len(urls))
	if err != nil {
		return nil, err
	}

	successor := buildSuccessor(urls, first)

	sum := md5.Sum(raw)
	version := hex.EncodeToString(sum[:])

	return &ServersConfig{
		trie:           trie,
		minIds:         minIds,
		firstServerURL: first,
		successor:      successor,
		version:        version,
	}, nil
}

func distinctURLs(routes []routespec.Route) []routespec.ServerURL {
	seen := make(map[routespec.ServerURL]bool)
	var urls []routespec.ServerURL
	for _, r := range routes {
		if !seen[r.URL] {
			seen[r.URL] = true
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// scanMinIDs walks i from MinI64 upward, recording the first i that
// maps to each distinct server, until every server has been seen. The
// trie's full key-space coverage guarantees this terminates.
func scanMinIDs(trie *routetrie.Trie, wantServers int) (map[routespec.ServerURL]int64, routespec.ServerURL, error) {
	if wantServers == 0 {
		return nil, "", fmt.Errorf("serversconfig: no servers in config")
	}

	minIds := make(map[routespec.ServerURL]int64, wantServers)
	var first routespec.ServerURL
	firstSet := false

	for i := int64(numeric.MinI64); ; i++ {
		u := trie.Match(numeric.ShardKey(i))
		if !firstSet {
			first = u
			firstSet = true
		}
		if _, ok := minIds[u]; !ok {
			minIds[u] = i
			if len(minIds) == wantServers {
				return minIds, first, nil
			}
		}
		if i == numeric.MaxI64 {
			break
		}
	}
	return nil, "", fmt.Errorf("serversconfig: scanned the entire i64 range without covering all %d servers", wantServers)
}

// buildSuccessor chains firstServerURL -> remaining URLs sorted
// ascending -> "no successor" at the end.
func buildSuccessor(urls []routespec.ServerURL, first routespec.ServerURL) map[routespec.ServerURL]*routespec.ServerURL {
	rest := make([]routespec.ServerURL, 0, len(urls))
	for _, u := range urls {
		if u != first {
			rest = append(rest, u)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })

	chain := append([]routespec.ServerURL{first}, rest...)
	successor := make(map[routespec.ServerURL]*routespec.ServerURL, len(chain))
	for i, u := range chain {
		if i+1 < len(chain) {
			next := chain[i+1]
			successor[u] = &next
		} else {
			successor[u] = nil
		}
	}
	return successor
}
