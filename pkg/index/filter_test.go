package index

import (
	"cmp"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBytesFn(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		toBytes := keyBytesFn[string]()
		assert.Equal(t, []byte("abc"), toBytes("abc"))
	})
	t.Run("int", func(t *testing.T) {
		toBytes := keyBytesFn[int]()
		assert.Len(t, toBytes(7), 8)
		assert.NotEqual(t, toBytes(7), toBytes(8))
	})
	t.Run("int64", func(t *testing.T) {
		toBytes := keyBytesFn[int64]()
		assert.Len(t, toBytes(1<<40), 8)
	})
	t.Run("fallback", func(t *testing.T) {
		type custom struct{ a, b int }
		toBytes := keyBytesFn[custom]()
		assert.NotEqual(t, toBytes(custom{1, 2}), toBytes(custom{2, 1}))
	})
}

func TestPresenceFilter(t *testing.T) {
	filter := newPresenceFilter[int](1000, 0.01)
	for key := 0; key < 100; key++ {
		filter.add(key)
	}
	for key := 0; key < 100; key++ {
		assert.Truef(t, filter.mayContain(key), "inserted key %d must test positive", key)
	}
	filter.reset()
	misses := 0
	for key := 0; key < 100; key++ {
		if !filter.mayContain(key) {
			misses++
		}
	}
	assert.Equal(t, 100, misses, "a reset filter holds nothing")
}

func TestIndex_WithBloomFilter(t *testing.T) {
	ix, err := New[int, int](8, cmp.Compare,
		WithRandomSource(rand.NewSource(42)), WithBloomFilter(1000, 0.01))
	require.NoError(t, err)

	for key := 0; key < 200; key += 2 {
		require.NoError(t, ix.Insert(key, key*10))
	}
	for key := 0; key < 200; key += 2 {
		value, err := ix.Search(key)
		assert.NoError(t, err)
		assert.Equal(t, key*10, value)
	}

	// Deleted keys stay in the filter; the search falls through to the walk
	// and still answers absent.
	ix.Delete(42)
	_, err = ix.Search(42)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Clearing resets the filter along with the towers.
	ix.Clear()
	_, err = ix.Search(2)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, ix.Insert(2, 20))
	value, err := ix.Search(2)
	assert.NoError(t, err)
	assert.Equal(t, 20, value)
}
