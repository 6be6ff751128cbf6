// Package routetrie implements the binary trie that partitions the
// 32-bit sharding-key space across backend servers.
package routetrie

import (
	"fmt"

	"github.com/swaptacular/swpt-apiproxy/internal/routespec"
)

// keyBits is the width of a sharding key; lookup always descends at
// most this many levels.
const keyBits = 32

// node is either a leaf (URL set, both children nil) or an internal
// node (URL unset, both children set). The tree is owned exclusively
// by the Trie that built it; no node is ever shared between tries.
type node struct {
	url      routespec.ServerURL
	isLeaf   bool
	children [2]*node
}

// Trie is a binary trie over the high-order bits of a 32-bit sharding
// key, built once from a set of routes and read-only thereafter.
type Trie struct {
	root *node
}

// Build inserts every route into a fresh trie and validates it for
// full coverage (no gaps, no duplicated or overlapping routes).
func Build(routes []routespec.Route) (*Trie, error) {
	t := &Trie{root: &node{}}
	for _, r := range routes {
		if err := t.insert(r.Prefix, r.URL); err != nil {
			return nil, err
		}
	}
	if err := t.root.validate(""); err != nil {
		return nil, err
	}
	return t, nil
}

// insert walks the trie along prefix, creating internal nodes as
// needed, and sets the URL on the node the prefix terminates at.
func (t *Trie) insert(prefix string, url routespec.ServerURL) error {
	n := t.root
	for i := 0; i < len(prefix); i++ {
		if n.isLeaf {
			return fmt.Errorf("routetrie: duplicated route %s (ancestor of %s is already a leaf)", dotted(prefix[:i]), dotted(prefix))
		}
		bit := prefix[i] - '0'
		if n.children[bit] == nil {
			n.children[bit] = &node{}
		}
		n = n.children[bit]
	}
	if n.isLeaf || n.url != "" {
		return fmt.Errorf("routetrie: duplicated route %s", dotted(prefix))
	}
	if n.children[0] != nil || n.children[1] != nil {
		return fmt.Errorf("routetrie: duplicated route %s (a descendant route already exists)", dotted(prefix))
	}
	n.isLeaf = true
	n.url = url
	return nil
}

// validate checks the leaf-or-internal invariant recursively: a node
// with no children must be a leaf with a URL; a node without a URL
// must have exactly two children.
func (n *node) validate(path string) error {
	if n.isLeaf {
		if n.children[0] != nil || n.children[1] != nil {
			return fmt.Errorf("routetrie: invalid trie: leaf at %s has children", dotted(path))
		}
		return nil
	}
	if n.children[0] == nil || n.children[1] == nil {
		return fmt.Errorf("routetrie: missing route %s or %s", dotted(path+"0"), dotted(path+"1"))
	}
	if err := n.children[0].validate(path + "0"); err != nil {
		return err
	}
	return n.children[1].validate(path + "1")
}

// Match descends the trie from the root, taking bit 31 down to bit 0
// of k, returning the leaf's server URL. A trie that has passed Build
// always terminates within keyBits steps; failure to do so indicates
// the coverage invariant was violated and is an internal assertion
// failure rather than a request-level error.
func (t *Trie) Match(k uint32) routespec.ServerURL {
	n := t.root
	for i := keyBits - 1; i >= 0; i-- {
		if n.isLeaf {
			return n.url
		}
		bit := (k >> uint(i)) & 1
		n = n.children[bit]
		if n == nil {
			panic("routetrie: trie does not cover the full key space")
		}
	}
	if !n.isLeaf {
		panic("routetrie: trie does not cover the full key space")
	}
	return n.url
}

// dotted renders a bit-prefix string back into the "b.b...*" route
// spelling used in error messages.
func dotted(prefix string) string {
	out := ""
	for _, b := range prefix {
		out += string(b) + "."
	}
	return out + "*"
}
