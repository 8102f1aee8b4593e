package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise whichever Index implementation the active build
// tag selects (AVL by default, the hash table under bcache_hash_index),
// since both satisfy the same contract.

func TestInsertLookupRemove(t *testing.T) {
	idx := New()
	k := Key{Device: 1, Block: 7}

	_, ok := idx.Lookup(k)
	assert.False(t, ok)

	require.NoError(t, idx.Insert(k, "buf7"))
	v, ok := idx.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, "buf7", v)
	assert.Equal(t, 1, idx.Len())

	require.NoError(t, idx.Remove(k))
	_, ok = idx.Lookup(k)
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
}

func TestInsertDuplicateKeyErrors(t *testing.T) {
	idx := New()
	k := Key{Device: 1, Block: 1}
	require.NoError(t, idx.Insert(k, "a"))
	err := idx.Insert(k, "b")
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestRemoveMissingKeyErrors(t *testing.T) {
	idx := New()
	err := idx.Remove(Key{Device: 1, Block: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatherFiltersByDevice(t *testing.T) {
	idx := New()
	for b := int64(0); b < 5; b++ {
		require.NoError(t, idx.Insert(Key{Device: 1, Block: b}, b))
	}
	for b := int64(0); b < 3; b++ {
		require.NoError(t, idx.Insert(Key{Device: 2, Block: b}, b+100))
	}

	got := idx.Gather(1)
	assert.Len(t, got, 5)
	got2 := idx.Gather(2)
	assert.Len(t, got2, 3)
	assert.Len(t, idx.Gather(3), 0)
}

func TestManyKeysAcrossDevices(t *testing.T) {
	idx := New()
	for dev := uintptr(1); dev <= 4; dev++ {
		for b := int64(0); b < 64; b++ {
			require.NoError(t, idx.Insert(Key{Device: dev, Block: b}, int(dev)*1000+int(b)))
		}
	}
	assert.Equal(t, 256, idx.Len())

	for dev := uintptr(1); dev <= 4; dev++ {
		for b := int64(0); b < 64; b++ {
			v, ok := idx.Lookup(Key{Device: dev, Block: b})
			require.True(t, ok)
			assert.Equal(t, int(dev)*1000+int(b), v)
		}
	}
}
