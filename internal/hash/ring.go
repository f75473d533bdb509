// Package hash provides a consistent hash ring used to shard work across a
// fixed pool of goroutines.
package hash

import (
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"
)

// Ring implements a consistent hash ring with virtual nodes. It maps string
// keys to entries from a fixed node list using consistent hashing, which
// keeps most keys mapped to the same node when the node list is stable.
type Ring struct {
	nodes []virtualNode
	names []string
	seed  uint64
}

type virtualNode struct {
	hash uint64
	idx  int
}

// NewRing builds a ring over names, with virtualNodesPerName virtual nodes
// per entry. seed of 0 uses the unseeded hash.
func NewRing(names []string, virtualNodesPerName int, seed uint64) *Ring {
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}

	r := &Ring{names: uniq, seed: seed}
	r.nodes = make([]virtualNode, 0, len(uniq)*virtualNodesPerName)
	for i, name := range uniq {
		for v := 0; v < virtualNodesPerName; v++ {
			r.nodes = append(r.nodes, virtualNode{hash: r.vnodeHash(name, v), idx: i})
		}
	}

	slices.SortFunc(r.nodes, func(a, b virtualNode) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		default:
			return 0
		}
	})

	return r
}

// GetNode returns the entry name responsible for key.
func (r *Ring) GetNode(key string) string {
	idx := r.GetNodeIndex(key)
	if idx < 0 {
		return ""
	}
	return r.names[idx]
}

// GetNodeIndex returns the index into Names() responsible for key, or -1 if
// the ring is empty.
func (r *Ring) GetNodeIndex(key string) int {
	if len(r.nodes) == 0 {
		return -1
	}

	target := r.hash(key)
	idx, found := slices.BinarySearchFunc(r.nodes, target, func(n virtualNode, t uint64) int {
		switch {
		case n.hash < t:
			return -1
		case n.hash > t:
			return 1
		default:
			return 0
		}
	})
	if !found && idx >= len(r.nodes) {
		idx = 0
	}

	return r.nodes[idx].idx
}

// Names returns the ring's unique entry names.
func (r *Ring) Names() []string {
	return append([]string(nil), r.names...)
}

// Size returns the total number of virtual nodes on the ring.
func (r *Ring) Size() int { return len(r.nodes) }

func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}
	return xxh3.HashString(key)
}

func (r *Ring) vnodeHash(name string, vnode int) uint64 {
	var h uint64
	if r.seed != 0 {
		h = xxh3.HashStringSeed(name, r.seed)
	} else {
		h = xxh3.HashString(name)
	}

	var ib [8]byte
	binary.LittleEndian.PutUint64(ib[:], uint64(vnode)) //nolint:gosec
	return xxh3.HashSeed(ib[:], h)
}
