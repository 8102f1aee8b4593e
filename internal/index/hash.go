//go:build bcache_hash_index

package index

import "github.com/wtcat/gobcache/internal/constants"

// hashTableSize is the fixed bucket count of the open hash table index.
const hashTableSize = constants.HashTableSize
const hashTableMask = constants.HashTableMask

type hashEntry struct {
	key   Key
	value any
}

// Hash is the alternate buffer index: a fixed 128-bucket open hash table
// with linear intra-bucket scan, selected by the bcache_hash_index build
// tag in place of the default AVL tree.
type Hash struct {
	buckets [hashTableSize][]hashEntry
	n       int
}

// New returns the build-selected Index implementation (Hash when built
// with -tags bcache_hash_index).
func New() Index {
	return &Hash{}
}

func bucketOf(block int64) int {
	b := uint64(block)
	return int((b>>8)^b) & hashTableMask
}

func (h *Hash) Insert(key Key, value any) error {
	idx := bucketOf(key.Block)
	for _, e := range h.buckets[idx] {
		if equal(e.key, key) {
			return ErrDuplicateKey
		}
	}
	h.buckets[idx] = append(h.buckets[idx], hashEntry{key: key, value: value})
	h.n++
	return nil
}

func (h *Hash) Lookup(key Key) (any, bool) {
	idx := bucketOf(key.Block)
	for _, e := range h.buckets[idx] {
		if equal(e.key, key) {
			return e.value, true
		}
	}
	return nil, false
}

func (h *Hash) Remove(key Key) error {
	idx := bucketOf(key.Block)
	bucket := h.buckets[idx]
	for i, e := range bucket {
		if equal(e.key, key) {
			h.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			h.n--
			return nil
		}
	}
	return ErrNotFound
}

func (h *Hash) Gather(device uintptr) []any {
	var out []any
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			if e.key.Device == device {
				out = append(out, e.value)
			}
		}
	}
	return out
}

func (h *Hash) Len() int {
	return h.n
}
